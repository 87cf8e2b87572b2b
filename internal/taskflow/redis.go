package taskflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionLeased is returned by the Redis store when another instance
// holds the session's write lease.
var ErrSessionLeased = errors.New("taskflow: session leased by another instance")

const sessionKeyPrefix = "copilot:session:"

// RedisSessions keeps session state in Redis. Each session carries a write
// lease taken with SETNX so a horizontally scaled deployment has a single
// writer per session; one in-progress map per session survives across
// instances.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

// NewRedisSessions wraps client. ttl bounds both the state value and the
// lease; idle sessions expire server side, so DeleteIdle has nothing to do.
func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisSessions{client: client, ttl: ttl, owner: uuid.NewString()}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }
func leaseKey(id string) string   { return sessionKeyPrefix + id + ":lease" }

func (r *RedisSessions) Get(ctx context.Context, sessionID string) (*SessionState, bool, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session get: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("session decode: %w", err)
	}
	return &state, true, nil
}

func (r *RedisSessions) Put(ctx context.Context, sessionID string, state *SessionState) error {
	if err := r.acquireLease(ctx, sessionID); err != nil {
		return err
	}
	state.Touched = time.Now().UTC()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sessionID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

// acquireLease takes the session's write lease or refreshes it when this
// instance already holds it.
func (r *RedisSessions) acquireLease(ctx context.Context, sessionID string) error {
	key := leaseKey(sessionID)
	ok, err := r.client.SetNX(ctx, key, r.owner, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("session lease: %w", err)
	}
	if ok {
		return nil
	}
	holder, err := r.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session lease: %w", err)
	}
	if holder != "" && holder != r.owner {
		return ErrSessionLeased
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("session lease refresh: %w", err)
	}
	return nil
}

func (r *RedisSessions) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID), leaseKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// DeleteIdle is a no-op: Redis expires idle sessions through key TTLs.
func (r *RedisSessions) DeleteIdle(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (r *RedisSessions) Close() error { return r.client.Close() }
