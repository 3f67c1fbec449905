package models

import "time"

// ConversationKind distinguishes one-to-one from group conversations.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Role is a participant's standing inside a conversation.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Rank maps a role to its ordinal. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Conversation is a direct or group channel holding ordered messages.
type Conversation struct {
	ID            string           `db:"id" json:"id"`
	Kind          ConversationKind `db:"kind" json:"kind"`
	Name          *string          `db:"name" json:"name,omitempty"`
	Description   *string          `db:"description" json:"description,omitempty"`
	AvatarRef     *string          `db:"avatar_ref" json:"avatar_ref,omitempty"`
	IsPrivate     bool             `db:"is_private" json:"is_private"`
	CreatedBy     string           `db:"created_by" json:"created_by"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
	LastMessageAt *time.Time       `db:"last_message_at" json:"last_message_at,omitempty"`
	DirectKey     *string          `db:"direct_key" json:"-"`
	MessageSeq    int64            `db:"message_seq" json:"-"`
}

// Participant is a user's membership row in a conversation.
type Participant struct {
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Role           Role       `db:"role" json:"role"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt         *time.Time `db:"left_at" json:"left_at,omitempty"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// ConversationSummary is a conversation as seen in a user's inbox.
type ConversationSummary struct {
	Conversation
	Role        Role            `json:"role"`
	UnreadCount int             `json:"unread_count"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
}

// ConversationDetails bundles a conversation with its active participants.
type ConversationDetails struct {
	Conversation
	Participants []Participant `json:"participants"`
}

// DirectKey builds the unordered pair key used to deduplicate direct conversations.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
