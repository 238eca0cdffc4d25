package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curriculum-qa-be/pkg/store"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "curriculum-qa:session:"

// SessionRepository stores sessions as JSON in redis, refreshing the TTL on every write
type SessionRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionRepository(rdb *redis.Client, ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionRepository{rdb: rdb, ttl: ttl}
}

func (r *SessionRepository) key(threadID string) string {
	return keyPrefix + threadID
}

func (r *SessionRepository) Get(ctx context.Context, threadID string) (*store.Session, error) {
	raw, err := r.rdb.Get(ctx, r.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var sess store.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *SessionRepository) Put(ctx context.Context, session *store.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(session.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, threadID string) error {
	return r.rdb.Del(ctx, r.key(threadID)).Err()
}
