package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

const (
	messageColumns  = `id, conversation_id, seq, sender_id, content, kind, file_ref, file_name, file_size, is_hidden, is_anonymous, reply_to_message_id, edited_at, deleted_at, created_at`
	reactionColumns = `message_id, user_id, emoji, created_at`
)

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	EditMessage(ctx context.Context, messageID, senderID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID, senderID string) (models.Message, bool, error)
	SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error)
	AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, bool, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and assigns its per-conversation sequence
// number. The conversation row lock serialises concurrent sends, so seq and
// created_at grow in commit order.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (created models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	err = tx.QueryRowxContext(ctx, `UPDATE conversations
        SET message_seq = message_seq + 1, last_message_at = clock_timestamp(), updated_at = clock_timestamp()
        WHERE id=$1 RETURNING message_seq`, msg.ConversationID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrConversationNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var active bool
	err = tx.GetContext(ctx, &active, `SELECT is_active FROM conversation_participants
        WHERE conversation_id=$1 AND user_id=$2 FOR SHARE`, msg.ConversationID, msg.SenderID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		err = ErrNotParticipant
	}
	if err != nil {
		return models.Message{}, err
	}

	if err = tx.GetContext(ctx, &created, `INSERT INTO messages
        (id, conversation_id, seq, sender_id, content, kind, file_ref, file_name, file_size, is_hidden, is_anonymous, reply_to_message_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, clock_timestamp())
        RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, seq, msg.SenderID, msg.Content, msg.Kind, msg.FileRef, msg.FileName,
		msg.FileSize, msg.IsHidden, msg.IsAnonymous, msg.ReplyToMessageID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return created, nil
}

// GetMessage fetches a message by id.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var m models.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return m, err
}

// GetMessages fetches several messages in one round trip. Missing ids are skipped.
func (r *MessageRepo) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return []models.Message{}, nil
	}
	var ms []models.Message
	err := r.db.SelectContext(ctx, &ms, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1) ORDER BY seq ASC`, pq.Array(messageIDs))
	return ms, err
}

// ListMessages returns a page of messages, newest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	var ms []models.Message
	err := r.db.SelectContext(ctx, &ms, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at DESC, seq DESC
        LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	return ms, err
}

// EditMessage replaces the content of a live message owned by senderID.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID, senderID, content string) (models.Message, error) {
	var m models.Message
	err := r.db.GetContext(ctx, &m, `UPDATE messages SET content=$3, edited_at=clock_timestamp()
        WHERE id=$1 AND sender_id=$2 AND deleted_at IS NULL
        RETURNING `+messageColumns, messageID, senderID, content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, r.explainMiss(ctx, messageID, senderID)
	}
	return m, err
}

// DeleteMessage tombstones a message owned by senderID. Deleting an already
// deleted message returns it with changed=false.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID, senderID string) (models.Message, bool, error) {
	var m models.Message
	err := r.db.GetContext(ctx, &m, `UPDATE messages SET content=NULL, edited_at=clock_timestamp(), deleted_at=clock_timestamp()
        WHERE id=$1 AND sender_id=$2 AND deleted_at IS NULL
        RETURNING `+messageColumns, messageID, senderID)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}

	missErr := r.explainMiss(ctx, messageID, senderID)
	if !errors.Is(missErr, ErrMessageDeleted) {
		return models.Message{}, false, missErr
	}
	m, err = r.GetMessage(ctx, messageID)
	return m, false, err
}

// explainMiss classifies why a guarded update touched no row.
func (r *MessageRepo) explainMiss(ctx context.Context, messageID, senderID string) error {
	m, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != senderID {
		return ErrNotSender
	}
	if m.IsDeleted() {
		return ErrMessageDeleted
	}
	return ErrMessageNotFound
}

// SearchMessages runs a Postgres full-text query over live messages.
func (r *MessageRepo) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error) {
	var ms []models.Message
	err := r.db.SelectContext(ctx, &ms, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND deleted_at IS NULL
        AND to_tsvector('simple', COALESCE(content, '')) @@ plainto_tsquery('simple', $2)
        ORDER BY created_at DESC, seq DESC
        LIMIT $3`, conversationID, query, limit)
	return ms, err
}

// AddReaction inserts a reaction. created is false when it already existed.
func (r *MessageRepo) AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, bool, error) {
	var out models.Reaction
	err := r.db.GetContext(ctx, &out, `INSERT INTO message_reactions (message_id, user_id, emoji)
        VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id, emoji) DO NOTHING
        RETURNING `+reactionColumns, reaction.MessageID, reaction.UserID, reaction.Emoji)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, false, err
	}
	err = r.db.GetContext(ctx, &out, `SELECT `+reactionColumns+` FROM message_reactions
        WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, reaction.MessageID, reaction.UserID, reaction.Emoji)
	return out, false, err
}

// RemoveReaction deletes a reaction and reports whether one existed.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListReactions returns a message's reactions in insertion order.
func (r *MessageRepo) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var rs []models.Reaction
	err := r.db.SelectContext(ctx, &rs, `SELECT `+reactionColumns+` FROM message_reactions
        WHERE message_id=$1 ORDER BY created_at ASC`, messageID)
	return rs, err
}
