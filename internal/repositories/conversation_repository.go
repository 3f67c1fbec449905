package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const (
	conversationColumns = `id, kind, name, description, avatar_ref, is_private, created_by, created_at, updated_at, last_message_at, direct_key, message_seq`
	participantColumns  = `conversation_id, user_id, role, joined_at, left_at, is_active, last_read_at`
)

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	GetOrCreateDirect(ctx context.Context, userA, userB string) (models.Conversation, bool, error)
	FindDirect(ctx context.Context, userA, userB string) (models.Conversation, error)
	CreateGroup(ctx context.Context, conv models.Conversation, memberIDs []string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error)
	UpsertParticipant(ctx context.Context, conversationID, userID string, role models.Role) (models.Participant, error)
	DeactivateParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error)
}

// ReceiptRepository tracks read watermarks.
type ReceiptRepository interface {
	MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository and ReceiptRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetOrCreateDirect atomically finds or inserts the direct conversation for
// the unordered user pair. The bool result is true when the row was created.
func (r *ConversationRepo) GetOrCreateDirect(ctx context.Context, userA, userB string) (conv models.Conversation, created bool, err error) {
	key := models.DirectKey(userA, userB)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (id, kind, is_private, created_by, direct_key)
        VALUES ($1, 'direct', TRUE, $2, $3)
        ON CONFLICT (direct_key) DO NOTHING
        RETURNING `+conversationColumns, uuid.NewString(), userA, key)
	switch {
	case err == nil:
		created = true
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, role)
            VALUES ($1, $2, 'member'), ($1, $3, 'member')`, conv.ID, userA, userB); err != nil {
			return models.Conversation{}, false, err
		}
	case errors.Is(err, sql.ErrNoRows):
		// another transaction owns the pair; its row is visible once it committed
		err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, key)
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrDirectConflict
		}
		if err != nil {
			return models.Conversation{}, false, err
		}
	default:
		return models.Conversation{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

// FindDirect looks up the direct conversation for a user pair.
func (r *ConversationRepo) FindDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, models.DirectKey(userA, userB))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateGroup creates a group, its admin and its members atomically.
func (r *ConversationRepo) CreateGroup(ctx context.Context, conv models.Conversation, memberIDs []string) (created models.Conversation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &created, `INSERT INTO conversations (id, kind, name, description, avatar_ref, is_private, created_by)
        VALUES ($1, 'group', $2, $3, $4, $5, $6)
        RETURNING `+conversationColumns, conv.ID, conv.Name, conv.Description, conv.AvatarRef, conv.IsPrivate, conv.CreatedBy); err != nil {
		return models.Conversation{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, role) VALUES ($1, $2, 'admin')`, created.ID, conv.CreatedBy); err != nil {
		return models.Conversation{}, err
	}
	for _, id := range memberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, role) VALUES ($1, $2, 'member')`, created.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return created, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

type summaryRow struct {
	models.Conversation
	Role          models.Role `db:"role"`
	UnreadCount   int         `db:"unread_count"`
	LastID        *string     `db:"last_id"`
	LastSenderID  *string     `db:"last_sender_id"`
	LastContent   *string     `db:"last_content"`
	LastKind      *string     `db:"last_kind"`
	LastCreatedAt *time.Time  `db:"last_created_at"`
}

// ListForUser returns the user's active conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.kind, c.name, c.description, c.avatar_ref, c.is_private, c.created_by, c.created_at,
            c.updated_at, c.last_message_at, c.direct_key, c.message_seq,
            p.role,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id AND m.sender_id <> p.user_id
                AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread_count,
            lm.id AS last_id, lm.sender_id AS last_sender_id, lm.content AS last_content,
            lm.kind AS last_kind, lm.created_at AS last_created_at
        FROM conversations c
        JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $1 AND p.is_active
        LEFT JOIN LATERAL (
            SELECT id, sender_id, content, kind, created_at FROM messages
            WHERE conversation_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
        ) lm ON TRUE
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	result := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.ConversationSummary{
			Conversation: row.Conversation,
			Role:         row.Role,
			UnreadCount:  row.UnreadCount,
		}
		if row.LastID != nil && row.LastCreatedAt != nil {
			summary.LastMessage = &models.MessagePreview{
				ID:        *row.LastID,
				Content:   row.LastContent,
				CreatedAt: *row.LastCreatedAt,
			}
			if row.LastSenderID != nil {
				summary.LastMessage.SenderID = *row.LastSenderID
			}
			if row.LastKind != nil {
				summary.LastMessage.Kind = models.MessageKind(*row.LastKind)
			}
		}
		result = append(result, summary)
	}
	return result, nil
}

// GetParticipant returns the membership row, active or not.
func (r *ConversationRepo) GetParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// ListParticipants returns the active participants ordered by join time.
func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	var ps []models.Participant
	err := r.db.SelectContext(ctx, &ps, `SELECT `+participantColumns+` FROM conversation_participants
        WHERE conversation_id=$1 AND is_active ORDER BY joined_at ASC, user_id ASC`, conversationID)
	return ps, err
}

// UpsertParticipant adds a user or reactivates their previous row. An
// already active row is returned unchanged.
func (r *ConversationRepo) UpsertParticipant(ctx context.Context, conversationID, userID string, role models.Role) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `INSERT INTO conversation_participants (conversation_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET
            role = CASE WHEN conversation_participants.is_active THEN conversation_participants.role ELSE EXCLUDED.role END,
            joined_at = CASE WHEN conversation_participants.is_active THEN conversation_participants.joined_at ELSE NOW() END,
            left_at = NULL,
            is_active = TRUE
        RETURNING `+participantColumns, conversationID, userID, role)
	return p, err
}

// DeactivateParticipant soft-removes an active participant.
func (r *ConversationRepo) DeactivateParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `UPDATE conversation_participants SET is_active = FALSE, left_at = NOW()
        WHERE conversation_id=$1 AND user_id=$2 AND is_active
        RETURNING `+participantColumns, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// MarkRead advances the read watermark; it never moves backwards.
func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	var at time.Time
	err := r.db.GetContext(ctx, &at, `UPDATE conversation_participants
        SET last_read_at = GREATEST(COALESCE(last_read_at, '-infinity'::timestamptz), clock_timestamp())
        WHERE conversation_id=$1 AND user_id=$2 AND is_active
        RETURNING last_read_at`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotParticipant
	}
	return at, err
}

// UnreadCount counts messages from others after the user's watermark.
// Tombstoned messages still count; edits never add rows.
func (r *ConversationRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(m.id) FROM conversation_participants p
        LEFT JOIN messages m ON m.conversation_id = p.conversation_id
            AND m.sender_id <> p.user_id
            AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
        WHERE p.conversation_id=$1 AND p.user_id=$2
        GROUP BY p.user_id`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrParticipantNotFound
	}
	return count, err
}

// Ping checks store connectivity.
func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
