package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
)

// Directory owns conversations and their membership.
type Directory struct {
	base
	conversations repositories.ConversationRepository
	perms         *Permissions
	validate      *validator.Validate
}

// NewDirectory constructs a Directory.
func NewDirectory(conversations repositories.ConversationRepository, perms *Permissions, bus Publisher, log *slog.Logger, opts ...Option) *Directory {
	return &Directory{
		base:          newBase(log, bus, opts),
		conversations: conversations,
		perms:         perms,
		validate:      validator.New(),
	}
}

// CreateGroupInput describes a new group conversation.
type CreateGroupInput struct {
	CreatorID   string   `validate:"required"`
	Name        string   `validate:"required,max=200"`
	Description *string  `validate:"omitempty,max=2000"`
	AvatarRef   *string  `validate:"omitempty,max=1024"`
	IsPrivate   bool
	MemberIDs   []string `validate:"required,min=1,unique,dive,required"`
}

// GetOrCreateDirectConversation returns the single direct conversation of
// the unordered pair, creating it when missing. Argument order is irrelevant.
func (d *Directory) GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (conv models.Conversation, err error) {
	ctx, span := d.startSpan(ctx, "messaging.GetOrCreateDirectConversation")
	defer func() { endSpan(span, err) }()

	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return models.Conversation{}, validationf("both user ids are required")
	}
	if userA == userB {
		return models.Conversation{}, validationf("cannot open a direct conversation with yourself")
	}

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	conv, created, err := d.conversations.GetOrCreateDirect(sctx, userA, userB)
	if errors.Is(err, repositories.ErrDirectConflict) {
		// the competing insert has committed by now
		conv, err = d.conversations.FindDirect(sctx, userA, userB)
		created = false
	}
	if err != nil {
		return models.Conversation{}, classify("get or create direct", err)
	}

	if created {
		d.log.Info("direct conversation created", "conversation_id", conv.ID)
		d.publishConversation(ctx, models.ConversationEvent{
			Type:           models.EventConversationCreated,
			ConversationID: conv.ID,
			UserIDs:        []string{userA, userB},
			Conversation:   &conv,
		})
	}
	return conv, nil
}

// CreateGroupConversation creates a group with the creator as admin and
// every member as member.
func (d *Directory) CreateGroupConversation(ctx context.Context, in CreateGroupInput) (conv models.Conversation, err error) {
	ctx, span := d.startSpan(ctx, "messaging.CreateGroupConversation")
	defer func() { endSpan(span, err) }()

	in.Name = strings.TrimSpace(in.Name)
	in.MemberIDs = lo.Map(in.MemberIDs, func(id string, _ int) string { return strings.TrimSpace(id) })
	if err := d.validate.Struct(in); err != nil {
		return models.Conversation{}, validationf("%v", err)
	}
	if lo.Contains(in.MemberIDs, in.CreatorID) {
		return models.Conversation{}, validationf("creator must not be listed as a member")
	}

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	conv, err = d.conversations.CreateGroup(sctx, models.Conversation{
		ID:          uuid.NewString(),
		Kind:        models.ConversationGroup,
		Name:        &in.Name,
		Description: in.Description,
		AvatarRef:   in.AvatarRef,
		IsPrivate:   in.IsPrivate,
		CreatedBy:   in.CreatorID,
	}, in.MemberIDs)
	if err != nil {
		return models.Conversation{}, classify("create group", err)
	}

	d.log.Info("group conversation created", "conversation_id", conv.ID, "members", len(in.MemberIDs)+1)
	d.publishConversation(ctx, models.ConversationEvent{
		Type:           models.EventConversationCreated,
		ConversationID: conv.ID,
		UserIDs:        append([]string{in.CreatorID}, in.MemberIDs...),
		Conversation:   &conv,
	})
	return conv, nil
}

// AddParticipant adds or reactivates userID. The actor needs at least
// moderator and cannot grant a role above their own.
func (d *Directory) AddParticipant(ctx context.Context, actorID, conversationID, userID string, role models.Role) (p models.Participant, err error) {
	ctx, span := d.startSpan(ctx, "messaging.AddParticipant")
	defer func() { endSpan(span, err) }()

	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return models.Participant{}, validationf("unknown role %q", role)
	}
	if strings.TrimSpace(userID) == "" {
		return models.Participant{}, validationf("user id is required")
	}

	if _, err := d.groupConversation(ctx, conversationID); err != nil {
		return models.Participant{}, err
	}
	actor, err := d.moderator(ctx, conversationID, actorID)
	if err != nil {
		return models.Participant{}, err
	}
	if role.Rank() > actor.Role.Rank() {
		return models.Participant{}, permissionf("cannot grant %s as %s", role, actor.Role)
	}

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()
	p, err = d.conversations.UpsertParticipant(sctx, conversationID, userID, role)
	if err != nil {
		return models.Participant{}, classify("add participant", err)
	}

	d.publishConversation(ctx, models.ConversationEvent{
		Type:           models.EventParticipantAdded,
		ConversationID: conversationID,
		UserIDs:        d.audience(ctx, conversationID),
		UserID:         userID,
	})
	return p, nil
}

// RemoveParticipant soft-removes userID. The actor needs at least moderator
// and cannot remove someone ranked above them.
func (d *Directory) RemoveParticipant(ctx context.Context, actorID, conversationID, userID string) (err error) {
	ctx, span := d.startSpan(ctx, "messaging.RemoveParticipant")
	defer func() { endSpan(span, err) }()

	if _, err := d.groupConversation(ctx, conversationID); err != nil {
		return err
	}
	actor, err := d.moderator(ctx, conversationID, actorID)
	if err != nil {
		return err
	}

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	target, err := d.conversations.GetParticipant(sctx, conversationID, userID)
	if err != nil {
		return classify("get participant", err)
	}
	if !target.IsActive {
		return classify("remove participant", repositories.ErrParticipantNotFound)
	}
	if target.Role.Rank() > actor.Role.Rank() {
		return permissionf("cannot remove %s as %s", target.Role, actor.Role)
	}
	return d.deactivate(ctx, conversationID, userID)
}

// LeaveConversation removes the caller from a group.
func (d *Directory) LeaveConversation(ctx context.Context, userID, conversationID string) (err error) {
	ctx, span := d.startSpan(ctx, "messaging.LeaveConversation")
	defer func() { endSpan(span, err) }()

	if _, err := d.groupConversation(ctx, conversationID); err != nil {
		return err
	}
	return d.deactivate(ctx, conversationID, userID)
}

func (d *Directory) deactivate(ctx context.Context, conversationID, userID string) error {
	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	if _, err := d.conversations.DeactivateParticipant(sctx, conversationID, userID); err != nil {
		return classify("remove participant", err)
	}

	d.publishConversation(ctx, models.ConversationEvent{
		Type:           models.EventParticipantRemoved,
		ConversationID: conversationID,
		UserIDs:        append(d.audience(ctx, conversationID), userID),
		UserID:         userID,
	})
	return nil
}

// ListConversationsForUser returns the inbox of userID.
func (d *Directory) ListConversationsForUser(ctx context.Context, userID string) (out []models.ConversationSummary, err error) {
	ctx, span := d.startSpan(ctx, "messaging.ListConversationsForUser")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, validationf("user id is required")
	}
	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	out, err = d.conversations.ListForUser(sctx, userID)
	if err != nil {
		return nil, classify("list conversations", err)
	}
	return out, nil
}

// GetConversationDetails returns a conversation with its active participants.
// Private conversations are only visible to their participants.
func (d *Directory) GetConversationDetails(ctx context.Context, viewerID, conversationID string) (details models.ConversationDetails, err error) {
	ctx, span := d.startSpan(ctx, "messaging.GetConversationDetails")
	defer func() { endSpan(span, err) }()

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	conv, err := d.conversations.GetConversation(sctx, conversationID)
	if err != nil {
		return models.ConversationDetails{}, classify("get conversation", err)
	}
	if conv.IsPrivate {
		if _, err := d.perms.activeParticipant(ctx, conversationID, viewerID); err != nil {
			return models.ConversationDetails{}, err
		}
	}

	participants, err := d.conversations.ListParticipants(sctx, conversationID)
	if err != nil {
		return models.ConversationDetails{}, classify("list participants", err)
	}
	return models.ConversationDetails{Conversation: conv, Participants: participants}, nil
}

func (d *Directory) groupConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	conv, err := d.conversations.GetConversation(sctx, conversationID)
	if err != nil {
		return models.Conversation{}, classify("get conversation", err)
	}
	if conv.Kind == models.ConversationDirect {
		return models.Conversation{}, validationf("direct conversations have fixed membership")
	}
	return conv, nil
}

func (d *Directory) moderator(ctx context.Context, conversationID, actorID string) (models.Participant, error) {
	actor, err := d.perms.activeParticipant(ctx, conversationID, actorID)
	if err != nil {
		return models.Participant{}, err
	}
	if actor.Role.Rank() < models.RoleModerator.Rank() {
		return models.Participant{}, permissionf("moderator role required")
	}
	return actor, nil
}

// audience lists the active participants; a failed lookup only narrows fan-out.
func (d *Directory) audience(ctx context.Context, conversationID string) []string {
	return participantIDs(ctx, d.base, d.conversations, conversationID)
}

func (d *Directory) publishConversation(ctx context.Context, ev models.ConversationEvent) {
	d.publish(ctx, realtime.ConversationsTopic, realtime.Event{Type: ev.Type, Payload: ev})
}

func participantIDs(ctx context.Context, b base, conversations repositories.ConversationRepository, conversationID string) []string {
	sctx, cancel := b.storeCtx(ctx)
	defer cancel()

	ps, err := conversations.ListParticipants(sctx, conversationID)
	if err != nil {
		b.log.Warn("list participants for fan-out failed", "conversation_id", conversationID, "error", err)
		return nil
	}
	return lo.Map(ps, func(p models.Participant, _ int) string { return p.UserID })
}
