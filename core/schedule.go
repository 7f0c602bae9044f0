package core

import "time"

// ScheduledMessage is a future assistant message created by a
// schedule_message directive. It is consumed (deleted) exactly once by the
// schedule daemon when now >= DueAt.
type ScheduledMessage struct {
	ID           string          `json:"id"`
	Conversation ConversationKey `json:"conversation"`
	Content      string          `json:"content"`
	DueAt        time.Time       `json:"due_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewScheduledMessage creates a scheduled message due at the given time.
func NewScheduledMessage(key ConversationKey, content string, dueAt time.Time) ScheduledMessage {
	return ScheduledMessage{
		ID:           NewID(),
		Conversation: key,
		Content:      content,
		DueAt:        dueAt,
		CreatedAt:    time.Now().UTC(),
	}
}
