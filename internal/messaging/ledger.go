package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
)

// Ledger keeps per-participant read watermarks.
type Ledger struct {
	base
	receipts repositories.ReceiptRepository
}

// NewLedger constructs a Ledger.
func NewLedger(receipts repositories.ReceiptRepository, bus Publisher, log *slog.Logger, opts ...Option) *Ledger {
	return &Ledger{base: newBase(log, bus, opts), receipts: receipts}
}

// MarkRead advances the caller's watermark to now. It never moves it back.
func (l *Ledger) MarkRead(ctx context.Context, conversationID, userID string) (at time.Time, err error) {
	ctx, span := l.startSpan(ctx, "messaging.MarkRead")
	defer func() { endSpan(span, err) }()

	sctx, cancel := l.storeCtx(ctx)
	defer cancel()

	at, err = l.receipts.MarkRead(sctx, conversationID, userID)
	if err != nil {
		return time.Time{}, classify("mark read", err)
	}

	zero := 0
	l.publish(ctx, realtime.ConversationsTopic, realtime.Event{
		Type: models.EventReadReceipt,
		Payload: models.ConversationEvent{
			Type:           models.EventReadReceipt,
			ConversationID: conversationID,
			UserIDs:        []string{userID},
			UserID:         userID,
			UnreadCount:    &zero,
		},
	})
	return at, nil
}

// UnreadCount counts messages from others newer than the caller's watermark.
func (l *Ledger) UnreadCount(ctx context.Context, conversationID, userID string) (n int, err error) {
	ctx, span := l.startSpan(ctx, "messaging.UnreadCount")
	defer func() { endSpan(span, err) }()

	sctx, cancel := l.storeCtx(ctx)
	defer cancel()

	n, err = l.receipts.UnreadCount(sctx, conversationID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return 0, permissionf("user %s has never joined %s", userID, conversationID)
	}
	if err != nil {
		return 0, classify("unread count", err)
	}
	return n, nil
}
