package repositories

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrPresenceNotFound     = errors.New("presence not found")
	ErrNotParticipant       = errors.New("user is not an active participant")
	ErrNotSender            = errors.New("user is not the message sender")
	ErrMessageDeleted       = errors.New("message deleted")
	// ErrDirectConflict is returned when a direct conversation insert lost a
	// race and the winning row could not be read back in the same call.
	ErrDirectConflict = errors.New("direct conversation conflict")
)
