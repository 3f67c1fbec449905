package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blugelabs/bluge"

	"messaging-service/internal/models"
)

const (
	fieldID           = "_id"
	fieldConversation = "conversation_id"
	fieldContent      = "content"
	fieldCreatedAt    = "created_at"
)

// Index is a bluge full-text index of live message content.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

// Open opens an on-disk index at path, or an in-memory one when path is empty.
func Open(path string, log *slog.Logger) (*Index, error) {
	cfg := bluge.InMemoryOnlyConfig()
	if path != "" {
		cfg = bluge.DefaultConfig(path)
	}
	writer, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("open bluge writer: %w", err)
	}
	return &Index{writer: writer, log: log}, nil
}

// Index adds or replaces msg. Deleted or content-less messages are removed instead.
func (i *Index) Index(ctx context.Context, msg models.Message) error {
	if msg.IsDeleted() || msg.Content == nil {
		return i.Remove(ctx, msg.ID)
	}
	doc := bluge.NewDocument(msg.ID).
		AddField(bluge.NewKeywordField(fieldConversation, msg.ConversationID)).
		AddField(bluge.NewTextField(fieldContent, *msg.Content)).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, msg.CreatedAt).Sortable())
	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	return nil
}

// Remove drops a message from the index.
func (i *Index) Remove(_ context.Context, messageID string) error {
	if err := i.writer.Delete(bluge.Identifier(messageID)); err != nil {
		return fmt.Errorf("remove message %s: %w", messageID, err)
	}
	return nil
}

// Search returns ids of messages in conversationID matching every query
// term, newest first.
func (i *Index) Search(ctx context.Context, conversationID, query string, limit int) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open bluge reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(conversationID).SetField(fieldConversation)).
		AddMust(bluge.NewMatchQuery(query).SetField(fieldContent).SetOperator(bluge.MatchQueryOperatorAnd))
	req := bluge.NewTopNSearch(limit, q).SortBy([]string{"-" + fieldCreatedAt})

	matches, err := reader.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make([]string, 0, limit)
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldID {
				ids = append(ids, string(value))
				return false
			}
			return true
		})
		if err != nil {
			break
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return ids, nil
}

// Close flushes and closes the writer.
func (i *Index) Close() error {
	i.log.Info("closing search index")
	return i.writer.Close()
}
