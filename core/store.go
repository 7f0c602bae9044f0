package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store lookups for unknown records.
var ErrNotFound = errors.New("not found")

// MessageQuery filters a conversation read. The zero value returns the
// default partition (messages without a source tag) with no limit.
type MessageQuery struct {
	// Source selects a visibility partition. Empty selects messages with no
	// source tag; "*" selects all partitions.
	Source string
	// TailLimit keeps only the newest N messages (0 = unlimited).
	TailLimit int
}

// Store is the persistence collaborator consumed by the orchestration
// engine. All operations are context-bound; implementations must serialize
// concurrent writes per conversation key and must never lose appends.
// Last-write-wins is acceptable for persona profile fields.
type Store interface {
	// AppendMessage persists a message, assigning its per-conversation
	// sequence number, and returns the stored record.
	AppendMessage(ctx context.Context, msg Message) (Message, error)

	// Messages returns a conversation's history in (Timestamp, Seq) order.
	Messages(ctx context.Context, key ConversationKey, q MessageQuery) ([]Message, error)

	// TrailingAssistantRun returns the trailing contiguous run of
	// assistant messages for the conversation (oldest first).
	TrailingAssistantRun(ctx context.Context, key ConversationKey) ([]Message, error)

	// DeleteTrailingAssistantRun removes the trailing contiguous run of
	// assistant messages, returning how many were removed. Used by reroll.
	DeleteTrailingAssistantRun(ctx context.Context, key ConversationKey) (int, error)

	// Conversations enumerates all known conversation keys.
	Conversations(ctx context.Context) ([]ConversationKey, error)

	// Persona returns the persona profile for a character id.
	Persona(ctx context.Context, id string) (*PersonaProfile, error)

	// PutPersona applies a partial update to a persona profile.
	PutPersona(ctx context.Context, id string, patch PersonaPatch) error

	// UserProfile returns the user's profile.
	UserProfile(ctx context.Context) (UserProfile, error)

	// Group returns a group profile by id.
	Group(ctx context.Context, id string) (*GroupProfile, error)

	// PutScheduled persists a scheduled message.
	PutScheduled(ctx context.Context, sm ScheduledMessage) error

	// DueScheduled returns scheduled messages for the key with DueAt <= now,
	// ordered by (DueAt, CreatedAt) ascending.
	DueScheduled(ctx context.Context, key ConversationKey, now time.Time) ([]ScheduledMessage, error)

	// DeleteScheduled removes a scheduled message by id. Returns
	// ErrNotFound if it was already consumed.
	DeleteScheduled(ctx context.Context, id string) error

	// PutEvent persists a calendar entry materialized by an ADD_EVENT
	// directive.
	PutEvent(ctx context.Context, ev CalendarEvent) error
}

// Notifier pushes out-of-band notifications (proactive scheduled messages
// arriving while the user is elsewhere).
type Notifier interface {
	Push(ctx context.Context, title, body string) error
}

// NoOpNotifier discards all notifications. Useful for tests.
type NoOpNotifier struct{}

// Push implements Notifier.
func (NoOpNotifier) Push(context.Context, string, string) error { return nil }
