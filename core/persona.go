package core

import (
	"sort"
	"strings"
)

// RawMemory is a single per-day log entry in a persona's memory bank.
type RawMemory struct {
	Date    string `json:"date"` // ISO YYYY-MM-DD
	Summary string `json:"summary"`
	Mood    string `json:"mood,omitempty"`
}

// MonthKey returns the YYYY-MM prefix of the entry date.
func (r RawMemory) MonthKey() string {
	if len(r.Date) >= 7 {
		return r.Date[:7]
	}
	return r.Date
}

// MemoryBank holds a persona's long-term memory: compressed monthly
// summaries plus the raw per-day entries they were refined from. Months in
// ActiveMonths opt in to including their raw detail alongside the refined
// summary when the prompt is assembled.
type MemoryBank struct {
	Refined      map[string]string `json:"refined,omitempty"` // monthKey -> summary
	Raw          []RawMemory       `json:"raw,omitempty"`
	ActiveMonths map[string]bool   `json:"active_months,omitempty"`
}

// Empty reports whether the bank holds no memory at all.
func (b MemoryBank) Empty() bool { return len(b.Refined) == 0 && len(b.Raw) == 0 }

// Months returns the refined month keys in ascending order.
func (b MemoryBank) Months() []string {
	months := make([]string, 0, len(b.Refined))
	for m := range b.Refined {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// RawForMonth returns raw entries for the given month key preserving their
// stored order.
func (b MemoryBank) RawForMonth(monthKey string) []RawMemory {
	var out []RawMemory
	for _, r := range b.Raw {
		if strings.HasPrefix(r.Date, monthKey) {
			out = append(out, r)
		}
	}
	return out
}

// Impression is the structured private opinion a persona holds about the
// user. It biases tone via the assembled prompt but is never revealed
// verbatim. Mutated only by impression-regeneration side effects.
type Impression struct {
	Traits      []string `json:"traits,omitempty"`
	Likes       []string `json:"likes,omitempty"`
	Dislikes    []string `json:"dislikes,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
	ComfortZone string   `json:"comfort_zone,omitempty"`
	Version     int      `json:"version"`
	ChangeLog   []string `json:"change_log,omitempty"`
}

// Empty reports whether the impression carries no content worth prompting.
func (i Impression) Empty() bool {
	return len(i.Traits) == 0 && len(i.Likes) == 0 && len(i.Dislikes) == 0 &&
		len(i.Triggers) == 0 && i.ComfortZone == ""
}

// PersonaProfile is the persisted identity of an agent. It is mutated only
// by explicit user edits, memory-archival side effects, and impression
// regeneration; read-only orchestration steps never write it.
type PersonaProfile struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Instructions string      `json:"instructions"` // core system instructions
	Worldview    string      `json:"worldview,omitempty"`
	Memory       MemoryBank  `json:"memory"`
	Impression   *Impression `json:"impression,omitempty"`
}

// PersonaPatch is a partial update applied through Store.PutPersona. Nil
// fields are left untouched; last write wins per field.
type PersonaPatch struct {
	Name         *string     `json:"name,omitempty"`
	Instructions *string     `json:"instructions,omitempty"`
	Worldview    *string     `json:"worldview,omitempty"`
	Memory       *MemoryBank `json:"memory,omitempty"`
	Impression   *Impression `json:"impression,omitempty"`
}

// UserProfile describes the human user as presented to personas.
type UserProfile struct {
	Name        string `json:"name"`
	Nickname    string `json:"nickname,omitempty"`
	Description string `json:"description,omitempty"`
}

// GroupProfile describes a multi-agent group conversation. Membership is
// immutable for the duration of a director run; MemberIDs order is the
// roster order presented to the model, not a display ordering (display
// order follows the model's output array).
type GroupProfile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// CalendarEvent is materialized by an ADD_EVENT directive.
type CalendarEvent struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	Title       string `json:"title"`
	Date        string `json:"date"` // ISO YYYY-MM-DD
}
