package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rgaudreau/dealstalker/internal/types"
)

// RedisStorage publishes listings to a Redis stream, one XADD per
// listing, so downstream consumers (alerting bots, price trackers)
// can tail deals as they are scraped.
type RedisStorage struct {
	client *redis.Client
	stream string
	maxLen int64
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewRedisStorage connects to Redis and verifies the connection.
// maxLen, when positive, caps the stream length approximately.
func NewRedisStorage(addr string, db int, stream string, maxLen int64, logger *slog.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStorage{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "redis_storage"),
	}, nil
}

func (s *RedisStorage) Name() string { return "redis" }

func (s *RedisStorage) Store(listings []*types.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, l := range listings {
		payload, err := json.Marshal(l)
		if err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}

		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{"listing": string(payload)},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}

		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
		s.count++
	}

	s.logger.Debug("listings published", "count", len(listings), "total", s.count)
	return nil
}

func (s *RedisStorage) Close() error {
	s.logger.Info("redis storage closing", "total_listings", s.count, "stream", s.stream)
	return s.client.Close()
}
