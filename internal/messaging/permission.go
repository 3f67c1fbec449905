package messaging

import (
	"context"
	"errors"
	"log/slog"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// Permissions answers role questions against the participant rows.
type Permissions struct {
	base
	conversations repositories.ConversationRepository
}

// NewPermissions constructs a Permissions checker.
func NewPermissions(conversations repositories.ConversationRepository, log *slog.Logger, opts ...Option) *Permissions {
	return &Permissions{base: newBase(log, nil, opts), conversations: conversations}
}

// HasRole reports whether userID holds an active role of at least minRole.
// A missing or inactive row yields false without error.
func (p *Permissions) HasRole(ctx context.Context, conversationID, userID string, minRole models.Role) (bool, error) {
	if !minRole.Valid() {
		return false, validationf("unknown role %q", minRole)
	}
	ctx, cancel := p.storeCtx(ctx)
	defer cancel()

	participant, err := p.conversations.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, classify("has role", err)
	}
	if !participant.IsActive {
		return false, nil
	}
	return participant.Role.Rank() >= minRole.Rank(), nil
}

// activeParticipant returns the caller's active row or a permission error.
func (p *Permissions) activeParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	ctx, cancel := p.storeCtx(ctx)
	defer cancel()

	participant, err := p.conversations.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) || (err == nil && !participant.IsActive) {
		return models.Participant{}, permissionf("user %s is not a participant of %s", userID, conversationID)
	}
	if err != nil {
		return models.Participant{}, classify("get participant", err)
	}
	return participant, nil
}
