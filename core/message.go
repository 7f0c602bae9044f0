package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the conversational author of a message.
type Role string

const (
	// RoleUser marks a message authored by the human user.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by a persona agent.
	RoleAssistant Role = "assistant"
	// RoleSystem marks synthetic engine messages (errors, hints).
	RoleSystem Role = "system"
)

// MessageType categorizes the payload carried by a message.
type MessageType string

const (
	// MessageText is a plain prose bubble.
	MessageText MessageType = "text"
	// MessageImage is an image reference (URL or data URI).
	MessageImage MessageType = "image"
	// MessageEmoji is a sticker/emoji send resolved from the emoji table.
	MessageEmoji MessageType = "emoji"
	// MessageTransfer is a payment record.
	MessageTransfer MessageType = "transfer"
	// MessageInteraction is a non-verbal interaction such as a poke.
	MessageInteraction MessageType = "interaction"
)

// ConversationKey addresses a conversation log. A one-to-one conversation
// sets CharacterID only; a group log sets GroupID only. Private routing in
// group mode targets the member's one-to-one key.
type ConversationKey struct {
	CharacterID string `json:"character_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
}

// OneToOne returns the conversation key for a direct chat with a character.
func OneToOne(characterID string) ConversationKey {
	return ConversationKey{CharacterID: characterID}
}

// GroupKey returns the conversation key for a group log.
func GroupKey(groupID string) ConversationKey {
	return ConversationKey{GroupID: groupID}
}

// IsGroup reports whether the key addresses a group log.
func (k ConversationKey) IsGroup() bool { return k.GroupID != "" }

// String renders a stable map key / log label.
func (k ConversationKey) String() string {
	if k.IsGroup() {
		return fmt.Sprintf("group:%s", k.GroupID)
	}
	return fmt.Sprintf("chat:%s", k.CharacterID)
}

// MetaSource is the metadata key partitioning message visibility (e.g.
// "date-mode"). Consumers filtering by source must never double-count a
// message across partitions.
const MetaSource = "source"

// MetaAuthor is the metadata key carrying the authoring agent id for
// messages persisted against a group log.
const MetaAuthor = "author"

// Message is the append-only unit of conversation history. Ordering key is
// (Timestamp, Seq); Seq is assigned by the Store at append time and breaks
// timestamp ties in insertion order. Messages are never mutated after append
// except by explicit user edit/delete, which is a UI concern.
type Message struct {
	ID           string            `json:"id"`
	Conversation ConversationKey   `json:"conversation"`
	Role         Role              `json:"role"`
	Type         MessageType       `json:"type"`
	Content      string            `json:"content"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Seq          uint64            `json:"seq"`
}

// NewMessage creates a bare message bound to a conversation. Prefer the
// role-specific constructors for common cases.
func NewMessage(key ConversationKey, role Role, typ MessageType, content string) Message {
	return Message{
		ID:           NewID(),
		Conversation: key,
		Role:         role,
		Type:         typ,
		Content:      content,
		Timestamp:    time.Now().UTC(),
	}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(key ConversationKey, content string) Message {
	return NewMessage(key, RoleUser, MessageText, content)
}

// NewAssistantMessage creates an assistant-authored text message.
func NewAssistantMessage(key ConversationKey, content string) Message {
	return NewMessage(key, RoleAssistant, MessageText, content)
}

// NewSystemMessage creates a synthetic system message (error notices,
// advisory hints). System messages participate in dedup guarding.
func NewSystemMessage(key ConversationKey, content string) Message {
	return NewMessage(key, RoleSystem, MessageText, content)
}

// NewEmojiMessage creates an assistant emoji send. Content carries the
// resolved URL; the logical name is kept in metadata.
func NewEmojiMessage(key ConversationKey, name, url string) Message {
	m := NewMessage(key, RoleAssistant, MessageEmoji, url)
	m.Metadata = map[string]string{"emoji": name}
	return m
}

// NewTransferMessage creates an assistant payment record.
func NewTransferMessage(key ConversationKey, amount string) Message {
	return NewMessage(key, RoleAssistant, MessageTransfer, amount)
}

// NewInteractionMessage creates a non-verbal interaction record (e.g. "poke").
func NewInteractionMessage(key ConversationKey, kind string) Message {
	return NewMessage(key, RoleAssistant, MessageInteraction, kind)
}

// WithMeta returns a copy of the message with the metadata key set.
func (m Message) WithMeta(key, value string) Message {
	md := make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		md[k] = v
	}
	md[key] = value
	m.Metadata = md
	return m
}

// Source returns the visibility partition tag, empty for the default log.
func (m Message) Source() string { return m.Metadata[MetaSource] }

// NewID generates a new unique identifier for messages and runs.
func NewID() string { return uuid.NewString() }
