package core

import "testing"

func TestConversationKey_String(t *testing.T) {
	if got := OneToOne("luna").String(); got != "chat:luna" {
		t.Fatalf("unexpected key label: %s", got)
	}
	if got := GroupKey("g1").String(); got != "group:g1" {
		t.Fatalf("unexpected group label: %s", got)
	}
	if OneToOne("luna").IsGroup() {
		t.Error("one-to-one key should not be a group")
	}
	if !GroupKey("g1").IsGroup() {
		t.Error("group key should be a group")
	}
}

func TestMessage_Constructors(t *testing.T) {
	key := OneToOne("luna")

	u := NewUserMessage(key, "hi")
	if u.Role != RoleUser || u.Type != MessageText || u.Content != "hi" {
		t.Fatalf("unexpected user message: %+v", u)
	}
	if u.ID == "" || u.Timestamp.IsZero() {
		t.Error("expected id and timestamp to be set")
	}

	e := NewEmojiMessage(key, "wave", "https://cdn/wave.png")
	if e.Type != MessageEmoji || e.Metadata["emoji"] != "wave" {
		t.Fatalf("unexpected emoji message: %+v", e)
	}

	p := NewInteractionMessage(key, "poke")
	if p.Type != MessageInteraction || p.Content != "poke" {
		t.Fatalf("unexpected interaction message: %+v", p)
	}
}

func TestMessage_WithMeta(t *testing.T) {
	m := NewUserMessage(OneToOne("luna"), "hi")
	tagged := m.WithMeta(MetaSource, "date-mode")
	if tagged.Source() != "date-mode" {
		t.Fatalf("expected source tag, got %q", tagged.Source())
	}
	if m.Source() != "" {
		t.Error("WithMeta should not mutate the receiver")
	}
}

func TestMemoryBank_Months(t *testing.T) {
	b := MemoryBank{Refined: map[string]string{
		"2025-03": "spring",
		"2025-01": "january",
		"2025-02": "february",
	}}
	months := b.Months()
	want := []string{"2025-01", "2025-02", "2025-03"}
	for i, m := range want {
		if months[i] != m {
			t.Fatalf("months not sorted: %v", months)
		}
	}
}

func TestMemoryBank_RawForMonth(t *testing.T) {
	b := MemoryBank{Raw: []RawMemory{
		{Date: "2025-01-03", Summary: "walk", Mood: "calm"},
		{Date: "2025-02-14", Summary: "dinner", Mood: "happy"},
		{Date: "2025-01-20", Summary: "movie", Mood: "excited"},
	}}
	jan := b.RawForMonth("2025-01")
	if len(jan) != 2 || jan[0].Summary != "walk" || jan[1].Summary != "movie" {
		t.Fatalf("unexpected january entries: %+v", jan)
	}
	if b.Empty() {
		t.Error("bank with raw entries should not be empty")
	}
}
