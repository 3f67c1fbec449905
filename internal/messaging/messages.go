package messaging

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
)

const (
	MaxPageSize        = 200
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// SearchIndex is an optional full-text index kept beside the store.
type SearchIndex interface {
	Index(ctx context.Context, msg models.Message) error
	Remove(ctx context.Context, messageID string) error
	Search(ctx context.Context, conversationID, query string, limit int) ([]string, error)
}

// MessageStore writes and reads messages and fans them out on the bus.
type MessageStore struct {
	base
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	perms         *Permissions
	index         SearchIndex
	validate      *validator.Validate
}

// NewMessageStore constructs a MessageStore. index may be nil.
func NewMessageStore(
	messages repositories.MessageRepository,
	conversations repositories.ConversationRepository,
	perms *Permissions,
	index SearchIndex,
	bus Publisher,
	log *slog.Logger,
	opts ...Option,
) *MessageStore {
	return &MessageStore{
		base:          newBase(log, bus, opts),
		messages:      messages,
		conversations: conversations,
		perms:         perms,
		index:         index,
		validate:      validator.New(),
	}
}

// SendInput is a message to be stored.
type SendInput struct {
	ConversationID   string `validate:"required"`
	SenderID         string `validate:"required"`
	Content          *string
	Kind             models.MessageKind
	FileRef          *string
	FileName         *string `validate:"omitempty,max=255"`
	FileSize         *int64  `validate:"omitempty,gte=0"`
	IsHidden         bool
	IsAnonymous      bool
	ReplyToMessageID *string
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// Send stores a message and publishes it to the conversation topic.
func (s *MessageStore) Send(ctx context.Context, in SendInput) (msg models.Message, err error) {
	ctx, span := s.startSpan(ctx, "messaging.Send")
	defer func() { endSpan(span, err) }()

	if err := s.validate.Struct(in); err != nil {
		return models.Message{}, validationf("%v", err)
	}
	if in.Kind == "" {
		in.Kind = models.MessageText
	}
	if !in.Kind.Valid() {
		return models.Message{}, validationf("unknown message kind %q", in.Kind)
	}
	if blank(in.Content) && blank(in.FileRef) {
		return models.Message{}, validationf("message needs content or a file")
	}
	if blank(in.Content) {
		in.Content = nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if _, err := s.conversations.GetConversation(sctx, in.ConversationID); err != nil {
		return models.Message{}, classify("get conversation", err)
	}
	if in.ReplyToMessageID != nil {
		target, err := s.messages.GetMessage(sctx, *in.ReplyToMessageID)
		if err != nil {
			if errors.Is(err, repositories.ErrMessageNotFound) {
				return models.Message{}, validationf("reply target %s not found", *in.ReplyToMessageID)
			}
			return models.Message{}, classify("get reply target", err)
		}
		if target.ConversationID != in.ConversationID {
			return models.Message{}, validationf("reply target belongs to another conversation")
		}
	}

	msg, err = s.messages.CreateMessage(sctx, models.Message{
		ID:               uuid.NewString(),
		ConversationID:   in.ConversationID,
		SenderID:         in.SenderID,
		Content:          in.Content,
		Kind:             in.Kind,
		FileRef:          in.FileRef,
		FileName:         in.FileName,
		FileSize:         in.FileSize,
		IsHidden:         in.IsHidden,
		IsAnonymous:      in.IsAnonymous,
		ReplyToMessageID: in.ReplyToMessageID,
	})
	if err != nil {
		return models.Message{}, classify("create message", err)
	}
	observability.IncMessageSent(string(msg.Kind))

	s.indexMessage(ctx, msg)
	s.publish(ctx, realtime.MessagesTopic(msg.ConversationID), realtime.Event{
		Type:    models.EventMessageInserted,
		Seq:     msg.Seq,
		Payload: models.MessageEvent{Type: models.EventMessageInserted, Message: &msg},
	})
	s.publish(ctx, realtime.ConversationsTopic, realtime.Event{
		Type: models.EventConversationUpdated,
		Payload: models.ConversationEvent{
			Type:           models.EventConversationUpdated,
			ConversationID: msg.ConversationID,
			UserIDs:        participantIDs(ctx, s.base, s.conversations, msg.ConversationID),
			UserID:         msg.SenderID,
		},
	})
	return msg, nil
}

// FetchPage returns page (zero based) of pageSize messages. Pages walk from
// newest to oldest; messages inside a page are oldest first.
func (s *MessageStore) FetchPage(ctx context.Context, conversationID string, page, pageSize int) (out []models.Message, err error) {
	ctx, span := s.startSpan(ctx, "messaging.FetchPage")
	defer func() { endSpan(span, err) }()

	if page < 0 {
		return nil, validationf("page must not be negative")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, validationf("page size must be between 1 and %d", MaxPageSize)
	}
	if page > math.MaxInt32/pageSize {
		return nil, validationf("page %d is out of range", page)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if _, err := s.conversations.GetConversation(sctx, conversationID); err != nil {
		return nil, classify("get conversation", err)
	}
	out, err = s.messages.ListMessages(sctx, conversationID, pageSize, page*pageSize)
	if err != nil {
		return nil, classify("list messages", err)
	}
	slices.Reverse(out)
	return out, nil
}

// LastSeq returns the sequence of the newest message committed to a conversation.
func (s *MessageStore) LastSeq(ctx context.Context, conversationID string) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.conversations.GetConversation(sctx, conversationID)
	if err != nil {
		return 0, classify("get conversation", err)
	}
	return conv.MessageSeq, nil
}

// Edit replaces the content of a live message. Only its sender may edit.
func (s *MessageStore) Edit(ctx context.Context, messageID, editorID, content string) (msg models.Message, err error) {
	ctx, span := s.startSpan(ctx, "messaging.Edit")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(content) == "" {
		return models.Message{}, validationf("content must not be blank")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err = s.messages.EditMessage(sctx, messageID, editorID, content)
	if err != nil {
		return models.Message{}, classify("edit message", err)
	}

	s.indexMessage(ctx, msg)
	s.publish(ctx, realtime.MessagesTopic(msg.ConversationID), realtime.Event{
		Type:    models.EventMessageEdited,
		Payload: models.MessageEvent{Type: models.EventMessageEdited, Message: &msg, MessageID: msg.ID},
	})
	return msg, nil
}

// SoftDelete tombstones a message. Repeating it is a no-op that publishes nothing.
func (s *MessageStore) SoftDelete(ctx context.Context, messageID, requesterID string) (msg models.Message, err error) {
	ctx, span := s.startSpan(ctx, "messaging.SoftDelete")
	defer func() { endSpan(span, err) }()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, changed, err := s.messages.DeleteMessage(sctx, messageID, requesterID)
	if err != nil {
		return models.Message{}, classify("delete message", err)
	}
	if !changed {
		return msg, nil
	}

	if s.index != nil {
		if err := s.index.Remove(ctx, msg.ID); err != nil {
			s.log.Warn("search index remove failed", "message_id", msg.ID, "error", err)
		}
	}
	s.publish(ctx, realtime.MessagesTopic(msg.ConversationID), realtime.Event{
		Type:    models.EventMessageDeleted,
		Payload: models.MessageEvent{Type: models.EventMessageDeleted, Message: &msg, MessageID: msg.ID},
	})
	return msg, nil
}

// Search finds live messages matching query, newest first.
func (s *MessageStore) Search(ctx context.Context, conversationID, query string, limit int) (out []models.Message, err error) {
	ctx, span := s.startSpan(ctx, "messaging.Search")
	defer func() { endSpan(span, err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationf("query must not be blank")
	}
	switch {
	case limit <= 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if s.index == nil {
		out, err = s.messages.SearchMessages(sctx, conversationID, query, limit)
		if err != nil {
			return nil, classify("search messages", err)
		}
		return out, nil
	}

	ids, err := s.index.Search(sctx, conversationID, query, limit)
	if err != nil {
		return nil, classify("search index", err)
	}
	found, err := s.messages.GetMessages(sctx, ids)
	if err != nil {
		return nil, classify("get messages", err)
	}
	byID := lo.KeyBy(found, func(m models.Message) string { return m.ID })
	out = make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok || m.IsDeleted() || m.ConversationID != conversationID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// React adds the user's emoji to a message. Repeating it changes nothing.
func (s *MessageStore) React(ctx context.Context, messageID, userID, emoji string) (r models.Reaction, err error) {
	ctx, span := s.startSpan(ctx, "messaging.React")
	defer func() { endSpan(span, err) }()

	msg, err := s.reactable(ctx, messageID, userID, emoji)
	if err != nil {
		return models.Reaction{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	r, created, err := s.messages.AddReaction(sctx, models.Reaction{MessageID: messageID, UserID: userID, Emoji: strings.TrimSpace(emoji)})
	if err != nil {
		return models.Reaction{}, classify("add reaction", err)
	}
	if created {
		s.publish(ctx, realtime.MessagesTopic(msg.ConversationID), realtime.Event{
			Type:    models.EventReactionAdded,
			Payload: models.MessageEvent{Type: models.EventReactionAdded, MessageID: messageID, Reaction: &r},
		})
	}
	return r, nil
}

// Unreact removes the user's emoji from a message. Removing a missing reaction is not an error.
func (s *MessageStore) Unreact(ctx context.Context, messageID, userID, emoji string) (err error) {
	ctx, span := s.startSpan(ctx, "messaging.Unreact")
	defer func() { endSpan(span, err) }()

	msg, err := s.reactable(ctx, messageID, userID, emoji)
	if err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	emoji = strings.TrimSpace(emoji)
	removed, err := s.messages.RemoveReaction(sctx, messageID, userID, emoji)
	if err != nil {
		return classify("remove reaction", err)
	}
	if removed {
		s.publish(ctx, realtime.MessagesTopic(msg.ConversationID), realtime.Event{
			Type: models.EventReactionRemoved,
			Payload: models.MessageEvent{
				Type:      models.EventReactionRemoved,
				MessageID: messageID,
				Reaction:  &models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji},
			},
		})
	}
	return nil
}

// Reactions lists the reactions of a message the viewer can see.
func (s *MessageStore) Reactions(ctx context.Context, messageID, viewerID string) (out []models.Reaction, err error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.messages.GetMessage(sctx, messageID)
	if err != nil {
		return nil, classify("get message", err)
	}
	if _, err := s.perms.activeParticipant(ctx, msg.ConversationID, viewerID); err != nil {
		return nil, err
	}
	out, err = s.messages.ListReactions(sctx, messageID)
	if err != nil {
		return nil, classify("list reactions", err)
	}
	return out, nil
}

// GetMessage fetches a single message.
func (s *MessageStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.messages.GetMessage(sctx, messageID)
	if err != nil {
		return models.Message{}, classify("get message", err)
	}
	return msg, nil
}

func (s *MessageStore) reactable(ctx context.Context, messageID, userID, emoji string) (models.Message, error) {
	if strings.TrimSpace(emoji) == "" {
		return models.Message{}, validationf("emoji must not be blank")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.messages.GetMessage(sctx, messageID)
	if err != nil {
		return models.Message{}, classify("get message", err)
	}
	if msg.IsDeleted() {
		return models.Message{}, validationf("message %s is deleted", messageID)
	}
	if _, err := s.perms.activeParticipant(ctx, msg.ConversationID, userID); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *MessageStore) indexMessage(ctx context.Context, msg models.Message) {
	if s.index == nil {
		return
	}
	if err := s.index.Index(context.WithoutCancel(ctx), msg); err != nil {
		s.log.Warn("search index update failed", "message_id", msg.ID, "error", err)
	}
}
