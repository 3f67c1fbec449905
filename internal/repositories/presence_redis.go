package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"messaging-service/internal/models"
)

const (
	presenceKeyPrefix = "presence:user:"
	presenceOnlineSet = "presence:online"
)

// RedisPresenceRepo keeps presence in Redis: one hash per user plus a set of
// users currently flagged online.
type RedisPresenceRepo struct {
	client *redis.Client
}

var _ PresenceRepository = (*RedisPresenceRepo)(nil)

// NewRedisPresenceRepo connects to url and pings it before returning.
func NewRedisPresenceRepo(url string) (*RedisPresenceRepo, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisPresenceRepo{client: c}, nil
}

// NewRedisPresenceRepoFromClient wraps an existing client.
func NewRedisPresenceRepoFromClient(c *redis.Client) *RedisPresenceRepo {
	return &RedisPresenceRepo{client: c}
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

// UpsertPresence overwrites the user's hash and online set membership in one transaction.
func (r *RedisPresenceRepo) UpsertPresence(ctx context.Context, p models.UserPresence) (models.UserPresence, error) {
	p.LastSeenAt = p.LastSeenAt.UTC()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(p.UserID),
			"is_online", strconv.FormatBool(p.IsOnline),
			"status", string(p.Status),
			"last_seen_at", p.LastSeenAt.Format(time.RFC3339Nano),
		)
		if p.IsOnline {
			pipe.SAdd(ctx, presenceOnlineSet, p.UserID)
		} else {
			pipe.SRem(ctx, presenceOnlineSet, p.UserID)
		}
		return nil
	})
	if err != nil {
		return models.UserPresence{}, err
	}
	return p, nil
}

// GetPresence reads one user's hash.
func (r *RedisPresenceRepo) GetPresence(ctx context.Context, userID string) (models.UserPresence, error) {
	fields, err := r.client.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return models.UserPresence{}, err
	}
	if len(fields) == 0 {
		return models.UserPresence{}, ErrPresenceNotFound
	}
	return decodePresence(userID, fields)
}

// ListOnline returns users in the online set, most recently seen first.
func (r *RedisPresenceRepo) ListOnline(ctx context.Context) ([]models.UserPresence, error) {
	ids, err := r.client.SMembers(ctx, presenceOnlineSet).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.UserPresence{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, presenceKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]models.UserPresence, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		p, err := decodePresence(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if p.IsOnline {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

// Ping checks connectivity.
func (r *RedisPresenceRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisPresenceRepo) Close() error {
	return r.client.Close()
}

func decodePresence(userID string, fields map[string]string) (models.UserPresence, error) {
	online, err := strconv.ParseBool(fields["is_online"])
	if err != nil {
		return models.UserPresence{}, fmt.Errorf("redis: presence %s: is_online: %w", userID, err)
	}
	seen, err := time.Parse(time.RFC3339Nano, fields["last_seen_at"])
	if err != nil {
		return models.UserPresence{}, fmt.Errorf("redis: presence %s: last_seen_at: %w", userID, err)
	}
	return models.UserPresence{
		UserID:     userID,
		IsOnline:   online,
		Status:     models.PresenceStatus(fields["status"]),
		LastSeenAt: seen,
	}, nil
}
