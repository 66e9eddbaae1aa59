// Package redis implements the dispatch Store backed by Redis/Valkey.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/opsrelay/opsrelay/internal/store"
	"github.com/opsrelay/opsrelay/pkg/types"
)

const (
	defaultPrefix       = "opsrelay:"
	defaultIndexLimit   = 500
	defaultRetentionTTL = 7 * 24 * time.Hour
	eventListMax        = 100
)

// RedisStore implements store.Store on Redis/Valkey. Records live as JSON
// values under a key prefix with a sorted-set recency index; events live in
// per-token lists trimmed to a fixed length.
type RedisStore struct {
	client       *goredis.Client
	logger       *slog.Logger
	prefix       string
	indexLimit   int
	retentionTTL time.Duration
}

var _ store.Store = (*RedisStore)(nil)

// New creates a RedisStore from configuration.
func New(cfg *types.RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s := newFromClient(client, cfg.KeyPrefix, logger)
	if cfg.IndexLimit > 0 {
		s.indexLimit = cfg.IndexLimit
	}
	if cfg.RetentionTTL != "" {
		ttl, err := time.ParseDuration(cfg.RetentionTTL)
		if err != nil {
			return nil, fmt.Errorf("parsing retentionTtl: %w", err)
		}
		s.retentionTTL = ttl
	}
	return s, nil
}

// NewFromClient creates a RedisStore from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string, logger *slog.Logger) *RedisStore {
	return newFromClient(client, prefix, logger)
}

func newFromClient(client *goredis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client:       client,
		logger:       logger,
		prefix:       prefix,
		indexLimit:   defaultIndexLimit,
		retentionTTL: defaultRetentionTTL,
	}
}

func (s *RedisStore) dispatchKey(id string) string { return s.prefix + "dispatch:" + id }
func (s *RedisStore) indexKey() string             { return s.prefix + "dispatches" }
func (s *RedisStore) eventsKey(token string) string {
	return s.prefix + "events:" + token
}

// PutDispatch stores a dispatch record and indexes it by creation time.
func (s *RedisStore) PutDispatch(ctx context.Context, rec types.DispatchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("dispatch record has no ID")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling dispatch record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dispatchKey(rec.ID), data, s.retentionTTL)
	pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.ID,
	})
	// Keep the recency index bounded; record keys expire on their own.
	pipe.ZRemRangeByRank(ctx, s.indexKey(), 0, int64(-s.indexLimit-1))
	_, err = pipe.Exec(ctx)
	return err
}

// GetDispatch retrieves a dispatch record by ID.
func (s *RedisStore) GetDispatch(ctx context.Context, id string) (*types.DispatchRecord, error) {
	data, err := s.client.Get(ctx, s.dispatchKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("dispatch %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var rec types.DispatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDispatches returns up to limit records, most recently created first.
func (s *RedisStore) ListDispatches(ctx context.Context, limit int) ([]types.DispatchRecord, error) {
	if limit <= 0 {
		limit = s.indexLimit
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	var records []types.DispatchRecord
	for _, id := range ids {
		rec, err := s.GetDispatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Expired record still in the index.
			continue
		}
		if err != nil {
			s.logger.Warn("skipping corrupt dispatch entry", "id", id, "error", err)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// AppendEvent appends an audit event to the token's event list.
func (s *RedisStore) AppendEvent(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	key := s.eventsKey(event.Token)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -eventListMax, -1)
	pipe.Expire(ctx, key, s.retentionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// ListEvents returns up to limit events for a token in append order.
func (s *RedisStore) ListEvents(ctx context.Context, token string, limit int) ([]types.Event, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.eventsKey(token), start, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]types.Event, 0, len(raw))
	for _, item := range raw {
		var ev types.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			s.logger.Warn("skipping corrupt event entry", "token", token, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Start initializes the store connection.
func (s *RedisStore) Start(ctx context.Context) error {
	return s.Ping(ctx)
}

// Stop closes the store connection.
func (s *RedisStore) Stop(context.Context) error {
	return s.client.Close()
}

// Ping checks connectivity to the Redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
