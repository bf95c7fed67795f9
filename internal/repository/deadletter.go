package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const (
	deadLetterKey = "sync:deadletter"

	// deadLetterCap bounds the mirror list; the sqlite table holds the full
	// history.
	deadLetterCap = 1000
)

// RedisDeadLetterSink mirrors abandoned mutations to a capped redis list so
// operators can watch failures without opening the device's sqlite file.
type RedisDeadLetterSink struct {
	client *redis.Client
}

func NewRedisDeadLetterSink(client *redis.Client) *RedisDeadLetterSink {
	return &RedisDeadLetterSink{client: client}
}

func (s *RedisDeadLetterSink) Push(ctx context.Context, data []byte) error {
	if s.client == nil {
		return errors.New("redis client is not initialized")
	}
	if err := s.client.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		return err
	}
	return s.client.LTrim(ctx, deadLetterKey, 0, deadLetterCap-1).Err()
}
