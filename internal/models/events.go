package models

// Event types carried on the realtime bus.
const (
	EventMessageInserted     = "message_inserted"
	EventMessageEdited       = "message_edited"
	EventMessageDeleted      = "message_deleted"
	EventReactionAdded       = "reaction_added"
	EventReactionRemoved     = "reaction_removed"
	EventPresenceChanged     = "presence_changed"
	EventConversationCreated = "conversation_created"
	EventConversationUpdated = "conversation_updated"
	EventParticipantAdded    = "participant_added"
	EventParticipantRemoved  = "participant_removed"
	EventReadReceipt         = "read_receipt"
)

// MessageEvent is broadcast on a conversation's message topic.
type MessageEvent struct {
	Type      string    `json:"type"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Reaction  *Reaction `json:"reaction,omitempty"`
}

// PresenceEvent is broadcast on the presence topic.
type PresenceEvent struct {
	Type     string       `json:"type"`
	Presence UserPresence `json:"presence"`
}

// ConversationEvent is broadcast on the conversations topic. UserIDs lists
// the users the update concerns; socket consumers only forward it to them.
type ConversationEvent struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id"`
	UserIDs        []string      `json:"user_ids"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	UnreadCount    *int          `json:"unread_count,omitempty"`
}

// Concerns reports whether userID is addressed by the event.
func (e ConversationEvent) Concerns(userID string) bool {
	for _, id := range e.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
