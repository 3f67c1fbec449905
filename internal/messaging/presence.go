package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
)

// DefaultLiveness is the heartbeat gap after which an online row is treated as offline.
const DefaultLiveness = 90 * time.Second

// Liveness is the reader-side staleness policy for presence rows.
type Liveness struct {
	Threshold time.Duration
}

// IsOnline reports whether p counts as online at now.
func (l Liveness) IsOnline(p models.UserPresence, now time.Time) bool {
	if !p.IsOnline {
		return false
	}
	threshold := l.Threshold
	if threshold <= 0 {
		threshold = DefaultLiveness
	}
	return now.Sub(p.LastSeenAt) <= threshold
}

// Filter keeps the rows that count as online at now.
func (l Liveness) Filter(ps []models.UserPresence, now time.Time) []models.UserPresence {
	return lo.Filter(ps, func(p models.UserPresence, _ int) bool { return l.IsOnline(p, now) })
}

// PresenceTracker records heartbeats and serves the online list.
type PresenceTracker struct {
	base
	presence repositories.PresenceRepository
	liveness Liveness
}

// NewPresenceTracker constructs a PresenceTracker.
func NewPresenceTracker(presence repositories.PresenceRepository, liveness Liveness, bus Publisher, log *slog.Logger, opts ...Option) *PresenceTracker {
	return &PresenceTracker{base: newBase(log, bus, opts), presence: presence, liveness: liveness}
}

// Liveness returns the configured staleness policy.
func (t *PresenceTracker) Liveness() Liveness {
	return t.liveness
}

// SetPresence overwrites the user's presence and stamps lastSeenAt with now.
// An empty status follows isOnline.
func (t *PresenceTracker) SetPresence(ctx context.Context, userID string, isOnline bool, status models.PresenceStatus) (p models.UserPresence, err error) {
	ctx, span := t.startSpan(ctx, "messaging.SetPresence")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(userID) == "" {
		return models.UserPresence{}, validationf("user id is required")
	}
	if status == "" {
		status = lo.Ternary(isOnline, models.StatusOnline, models.StatusOffline)
	}
	if !status.Valid() {
		return models.UserPresence{}, validationf("unknown status %q", status)
	}
	switch {
	case !isOnline && status == models.StatusOnline:
		status = models.StatusOffline
	case status == models.StatusOffline:
		isOnline = false
	}

	sctx, cancel := t.storeCtx(ctx)
	defer cancel()

	p, err = t.presence.UpsertPresence(sctx, models.UserPresence{
		UserID:     userID,
		IsOnline:   isOnline,
		Status:     status,
		LastSeenAt: t.now().UTC(),
	})
	if err != nil {
		return models.UserPresence{}, classify("set presence", err)
	}
	observability.IncPresenceUpdate(string(p.Status))

	t.publish(ctx, realtime.PresenceTopic, realtime.Event{
		Type:    models.EventPresenceChanged,
		Payload: models.PresenceEvent{Type: models.EventPresenceChanged, Presence: p},
	})
	return p, nil
}

// GetOnlineUsers returns every row flagged online, stale or not.
func (t *PresenceTracker) GetOnlineUsers(ctx context.Context) (out []models.UserPresence, err error) {
	ctx, span := t.startSpan(ctx, "messaging.GetOnlineUsers")
	defer func() { endSpan(span, err) }()

	sctx, cancel := t.storeCtx(ctx)
	defer cancel()

	out, err = t.presence.ListOnline(sctx)
	if err != nil {
		return nil, classify("list online", err)
	}
	return out, nil
}

// GetPresence returns one user's stored row and whether it passes the
// liveness policy. A user who never sent a heartbeat is NotFound.
func (t *PresenceTracker) GetPresence(ctx context.Context, userID string) (p models.UserPresence, live bool, err error) {
	ctx, span := t.startSpan(ctx, "messaging.GetPresence")
	defer func() { endSpan(span, err) }()

	sctx, cancel := t.storeCtx(ctx)
	defer cancel()

	p, err = t.presence.GetPresence(sctx, userID)
	if err != nil {
		return models.UserPresence{}, false, classify("get presence", err)
	}
	return p, t.liveness.IsOnline(p, t.now()), nil
}

// GetLiveUsers returns the online rows that pass the liveness policy.
func (t *PresenceTracker) GetLiveUsers(ctx context.Context) ([]models.UserPresence, error) {
	out, err := t.GetOnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	return t.liveness.Filter(out, t.now()), nil
}
