package models

import "time"

// MessageKind is the payload type of a message.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// Message is a single entry in a conversation. Content is nil once deleted.
type Message struct {
	ID               string      `db:"id" json:"id"`
	ConversationID   string      `db:"conversation_id" json:"conversation_id"`
	Seq              int64       `db:"seq" json:"seq"`
	SenderID         string      `db:"sender_id" json:"sender_id"`
	Content          *string     `db:"content" json:"content"`
	Kind             MessageKind `db:"kind" json:"kind"`
	FileRef          *string     `db:"file_ref" json:"file_ref,omitempty"`
	FileName         *string     `db:"file_name" json:"file_name,omitempty"`
	FileSize         *int64      `db:"file_size" json:"file_size,omitempty"`
	IsHidden         bool        `db:"is_hidden" json:"is_hidden"`
	IsAnonymous      bool        `db:"is_anonymous" json:"is_anonymous"`
	ReplyToMessageID *string     `db:"reply_to_message_id" json:"reply_to_message_id,omitempty"`
	EditedAt         *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt        *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// IsDeleted reports whether the message has been tombstoned.
func (m Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MessagePreview is the trimmed view of a conversation's latest message.
type MessagePreview struct {
	ID        string      `db:"id" json:"id"`
	SenderID  string      `db:"sender_id" json:"sender_id"`
	Content   *string     `db:"content" json:"content"`
	Kind      MessageKind `db:"kind" json:"kind"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Preview returns the inbox preview of m.
func (m Message) Preview() MessagePreview {
	return MessagePreview{ID: m.ID, SenderID: m.SenderID, Content: m.Content, Kind: m.Kind, CreatedAt: m.CreatedAt}
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
