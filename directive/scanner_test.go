package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PlainTextIsIdentity(t *testing.T) {
	texts := []string{
		"Hello there.",
		"今天过得怎么样？",
		"Math like a[i] = b[j] stays intact.",
		"An [unknown tag] should pass through.",
		"[[NOT_A_TAG: nope]] is left alone.",
	}
	for _, text := range texts {
		res := Decode(text, ModeDirect)
		assert.Equal(t, text, res.CleanText)
		assert.Empty(t, res.Directives)
	}
}

func TestDecode_EachTagKind(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Directive
	}{
		{"poke", "[[ACTION:POKE]]", Poke{}},
		{"transfer", "[[ACTION:TRANSFER:5.20]]", Transfer{Amount: "5.20"}},
		{"add_event", "[[ACTION:ADD_EVENT | Dinner date | 2025-03-08]]", AddEvent{Title: "Dinner date", Date: "2025-03-08"}},
		{"send_emoji", "[[SEND_EMOJI: wave]]", SendEmoji{Name: "wave"}},
		{"recall", "[[RECALL: 2025-02]]", Recall{Month: "2025-02"}},
		{"recall_unpadded", "[[RECALL: 2025-2]]", Recall{Month: "2025-02"}},
		{"schedule", "[schedule_message | 2025-03-08 09:00:00 | fixed | Good morning!]", Schedule{At: "2025-03-08 09:00:00", Content: "Good morning!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode("before "+tt.in+" after", ModeDirect)
			require.Len(t, res.Directives, 1)
			assert.Equal(t, tt.want, res.Directives[0])
			assert.Equal(t, "before  after", res.CleanText, "tag span must be removed")
		})
	}
}

func TestDecode_OrderingScenario(t *testing.T) {
	res := Decode("你好。[[SEND_EMOJI: wave]][[ACTION:POKE]]再见。", ModeDirect)

	require.Len(t, res.Directives, 2)
	assert.Equal(t, SendEmoji{Name: "wave"}, res.Directives[0])
	assert.Equal(t, Poke{}, res.Directives[1])
	assert.Equal(t, "你好。再见。", res.CleanText)

	// Runs preserve the original interleaving for positional execution.
	require.Len(t, res.Runs, 4)
	assert.Equal(t, "你好。", res.Runs[0].Text)
	assert.Equal(t, SendEmoji{Name: "wave"}, res.Runs[1].Directive)
	assert.Equal(t, Poke{}, res.Runs[2].Directive)
	assert.Equal(t, "再见。", res.Runs[3].Text)
}

func TestDecode_PrivateOnlyInGroupMode(t *testing.T) {
	in := "嗨[[PRIVATE: 偷偷说]]"

	direct := Decode(in, ModeDirect)
	assert.Empty(t, direct.Directives, "PRIVATE is not part of the direct grammar")
	assert.Equal(t, in, direct.CleanText)

	group := Decode(in, ModeGroup)
	require.Len(t, group.Directives, 1)
	assert.Equal(t, Private{Content: "偷偷说"}, group.Directives[0])
	assert.Equal(t, "嗨", group.CleanText)
}

func TestDecode_MalformedTagsFailOpen(t *testing.T) {
	tests := []string{
		"[[ACTION:TRANSFER:]]",          // missing amount
		"[[ACTION:ADD_EVENT | only]]",   // missing date field
		"[[SEND_EMOJI:]]",               // missing name
		"[[RECALL: whenever]]",          // not a month key
		"[[action:poke]]",               // tag names are case-sensitive
		"[schedule_message | 2025-03-08 09:00:00 | flexible | hi]", // wrong mode field
		"[[ACTION:POKE",                 // unterminated
	}
	for _, in := range tests {
		res := Decode(in, ModeGroup)
		assert.Empty(t, res.Directives, "input %q should not decode", in)
		assert.Equal(t, in, res.CleanText, "input %q must pass through untouched", in)
	}
}

func TestDecode_ValidTagAfterMalformedBracket(t *testing.T) {
	res := Decode("[[oops [[ACTION:POKE]]", ModeDirect)
	require.Len(t, res.Directives, 1)
	assert.Equal(t, Poke{}, res.Directives[0])
	assert.Equal(t, "[[oops ", res.CleanText)
}

func TestDecode_StripsLeadingDateEcho(t *testing.T) {
	res := Decode("[2025-03-01 09:12] 早上好呀", ModeDirect)
	assert.Equal(t, "早上好呀", res.CleanText)
}

func TestDecode_StripsSpeakerEcho(t *testing.T) {
	res := Decode("Luna: hi there", ModeDirect, WithSpeaker("Luna"))
	assert.Equal(t, "hi there", res.CleanText)

	// Full-width colon variant.
	res = Decode("Luna：你好", ModeDirect, WithSpeaker("Luna"))
	assert.Equal(t, "你好", res.CleanText)

	// Without a configured speaker the prefix is honest prose.
	res = Decode("Luna: hi there", ModeDirect)
	assert.Equal(t, "Luna: hi there", res.CleanText)
}

func TestDecode_ScheduleInsideProse(t *testing.T) {
	res := Decode("好的，明早叫你。\n[schedule_message | 2025-03-09 08:00:00 | fixed | 起床啦！]", ModeDirect)
	require.Len(t, res.Directives, 1)
	sched, ok := res.Directives[0].(Schedule)
	require.True(t, ok)
	assert.Equal(t, "起床啦！", sched.Content)
	assert.Equal(t, "好的，明早叫你。\n", res.CleanText)
}

func TestDecode_MultipleDirectivesKeepTextualOrder(t *testing.T) {
	res := Decode("a[[ACTION:POKE]]b[[SEND_EMOJI: hug]]c[[ACTION:TRANSFER:1]]", ModeDirect)
	require.Len(t, res.Directives, 3)
	assert.Equal(t, "poke", res.Directives[0].Kind())
	assert.Equal(t, "send_emoji", res.Directives[1].Kind())
	assert.Equal(t, "transfer", res.Directives[2].Kind())
	assert.Equal(t, "abc", res.CleanText)
}
