package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("lock not acquired")

const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// Locker hands out per-transaction leases (SET NX PX + token, compare-and-delete release).
type Locker struct {
	rdb  redis.Cmdable
	ttl  time.Duration
	wait time.Duration
	poll time.Duration
}

func NewLocker(rdb redis.Cmdable, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &Locker{rdb: rdb, ttl: ttl, wait: wait, poll: 25 * time.Millisecond}
}

// Acquire polls until the lease is held, wait elapses or ctx ends. The returned
// release func is safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, id string) (func(), error) {
	key := LockKey(id)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.rdb.Eval(rctx, releaseScript, []string{key}, token).Err()
	}, nil
}
