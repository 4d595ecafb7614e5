package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Idempotency key lock
// ============================================================================
//
// A client retrying a request (network timeout, double click) sends the same
// Idempotency-Key twice, often to different instances at once.
//
// Without the lock:
//   request 1: lookup key -> miss -> lock wallets -> debit -> insert row
//   request 2: lookup key -> miss -> waits on wallet rows -> debit -> insert
//              row -> unique index rejects it -> rollback -> replay request 1
//
// Request 2 is still answered correctly, but only after queueing on the
// wallet row locks and doing the work twice.
//
// With the lock:
//   request 1: SET NX key -> lookup -> ... -> commit -> release
//   request 2: SET NX fails, retry ... -> acquired -> lookup -> hit -> replay
//
// The lock is advisory. It never guards wallets, so it cannot take part in
// a lock-order cycle, and the unique (user_id, idempotency_key) index stays
// the only authority on duplicates. If Redis is down or the wait times out
// the request goes ahead without it.
//
// Redis mechanics:
//
// Acquire: SET key owner NX PX ttl
//   - NX: only one holder at a time
//   - PX: a crashed holder cannot keep the key forever
//   - owner: random token checked on release
//
// Release: Lua script, GET and DEL in one step, so a holder whose TTL ran out
// never deletes the next holder's lock.
//
// ============================================================================

var ErrLockFailed = errors.New("acquire lock failed")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock is a SET NX lock with an owner token. Unlock only deletes
// the key while it still holds our token.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock up to maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// KeyLocker serialises concurrent retries of one (user, idempotency key)
// pair. It is advisory: the ledger's unique index still decides, so callers
// go ahead when Redis is down or the wait times out. A nil *KeyLocker is
// valid and never locks.
type KeyLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewKeyLocker(client *redis.Client, ttl time.Duration) *KeyLocker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &KeyLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    40,
	}
}

// Acquire returns a release func, which is never nil. err reports why the
// lock was not taken; the release func is then a no-op.
func (k *KeyLocker) Acquire(ctx context.Context, userID int64, idempotencyKey, owner string) (func(), error) {
	noop := func() {}
	if k == nil || idempotencyKey == "" {
		return noop, nil
	}

	key := fmt.Sprintf("exchange:idem:%d:%s", userID, idempotencyKey)
	l := NewDistributedLock(k.client, key, owner, k.ttl)
	if err := l.Lock(ctx, k.retryInterval, k.maxRetries); err != nil {
		return noop, err
	}
	return func() {
		// Released on a fresh context so a cancelled request still unlocks.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Unlock(releaseCtx)
	}, nil
}
