// Package session tracks active sessions per user in Redis so the security
// limit MaxConcurrentSessions can be enforced at login time.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrSessionLimit is returned when opening one more session would exceed the
// user's effective MaxConcurrentSessions limit.
var ErrSessionLimit = errors.New("session: concurrent session limit reached")

// Registry stores one sorted set per user, scored by session expiry, so stale
// entries age out without a background sweeper.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// Option configures Registry.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a registry over an existing Redis client.
func NewRegistry(rdb *redis.Client, ttl time.Duration, opts ...Option) (*Registry, error) {
	if rdb == nil {
		return nil, errors.New("session: redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	r := &Registry{rdb: rdb, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func key(userID string) string { return "sessions:" + userID }

// beginScript prunes, counts and registers in one atomic step so two logins
// racing each other cannot both slip under the limit. The key TTL is refreshed
// on success to keep the whole set from outliving its longest session.
var beginScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '0', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Begin registers a session for the user, enforcing the limit. A limit of
// zero means the user has no session grant at all and fails closed.
func (r *Registry) Begin(ctx context.Context, userID, sessionID string, limit int) error {
	if userID == "" || sessionID == "" {
		return errors.New("session: user id and session id are required")
	}
	if limit <= 0 {
		return ErrSessionLimit
	}
	now := r.now().UTC()
	expiry := now.Add(r.ttl)

	res, err := beginScript.Run(ctx, r.rdb, []string{key(userID)},
		now.Unix(), limit, expiry.Unix(), sessionID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("session: register: %w", err)
	}
	if res == 0 {
		return ErrSessionLimit
	}
	return nil
}

// End removes a session, e.g. on logout.
func (r *Registry) End(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return errors.New("session: user id and session id are required")
	}
	return r.rdb.ZRem(ctx, key(userID), sessionID).Err()
}

// Active returns the number of live sessions for the user.
func (r *Registry) Active(ctx context.Context, userID string) (int, error) {
	now := r.now().UTC()
	k := key(userID)
	if err := r.rdb.ZRemRangeByScore(ctx, k, "0", fmt.Sprintf("%d", now.Unix())).Err(); err != nil {
		return 0, err
	}
	n, err := r.rdb.ZCard(ctx, k).Result()
	return int(n), err
}
