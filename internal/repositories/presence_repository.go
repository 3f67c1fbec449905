package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const presenceColumns = `user_id, is_online, status, last_seen_at`

// PresenceRepository stores one presence row per user.
type PresenceRepository interface {
	UpsertPresence(ctx context.Context, p models.UserPresence) (models.UserPresence, error)
	GetPresence(ctx context.Context, userID string) (models.UserPresence, error)
	ListOnline(ctx context.Context) ([]models.UserPresence, error)
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// UpsertPresence overwrites the user's presence row.
func (r *PresenceRepo) UpsertPresence(ctx context.Context, p models.UserPresence) (models.UserPresence, error) {
	var out models.UserPresence
	err := r.db.GetContext(ctx, &out, `INSERT INTO user_presence (user_id, is_online, status, last_seen_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            is_online = EXCLUDED.is_online,
            status = EXCLUDED.status,
            last_seen_at = EXCLUDED.last_seen_at
        RETURNING `+presenceColumns, p.UserID, p.IsOnline, p.Status, p.LastSeenAt)
	return out, err
}

// GetPresence fetches one user's presence.
func (r *PresenceRepo) GetPresence(ctx context.Context, userID string) (models.UserPresence, error) {
	var out models.UserPresence
	err := r.db.GetContext(ctx, &out, `SELECT `+presenceColumns+` FROM user_presence WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserPresence{}, ErrPresenceNotFound
	}
	return out, err
}

// ListOnline returns rows flagged online, most recently seen first. Liveness
// filtering is left to the caller.
func (r *PresenceRepo) ListOnline(ctx context.Context) ([]models.UserPresence, error) {
	var out []models.UserPresence
	err := r.db.SelectContext(ctx, &out, `SELECT `+presenceColumns+` FROM user_presence
        WHERE is_online ORDER BY last_seen_at DESC`)
	return out, err
}
