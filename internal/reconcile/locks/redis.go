// Package locks provides a Redis-backed advisory lock strategy for
// deployments running more than one instance against the same database. It
// decorates an inner transaction strategy: per-key exclusion happens in
// Redis, atomicity still comes from the inner strategy.
package locks

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"weld/internal/reconcile/service"
	dErrors "weld/pkg/domain-errors"
	"weld/pkg/platform/sentinel"
)

const (
	lockTTL        = 10 * time.Second
	acquireTries   = 20
	acquireBackoff = 25 * time.Millisecond
)

// releaseScript deletes a lock key only when it still holds our token, so an
// expired lock re-acquired by another invocation is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Keyed is a TxStrategy that serializes invocations sharing a normalized
// email or phone across process boundaries.
type Keyed struct {
	client *redis.Client
	inner  service.TxStrategy
}

// NewKeyed builds the Redis lock strategy around an inner strategy.
func NewKeyed(client *redis.Client, inner service.TxStrategy) *Keyed {
	return &Keyed{client: client, inner: inner}
}

func (k *Keyed) RunInTx(ctx context.Context, keys service.LockKeys, fn func(ctx context.Context, store service.Store) error) error {
	lockKeys := redisKeys(keys)
	token := uuid.NewString()

	acquired := make([]string, 0, len(lockKeys))
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = releaseScript.Run(releaseCtx, k.client, []string{acquired[i]}, token).Err()
		}
	}()

	for _, key := range lockKeys {
		if err := k.acquire(ctx, key, token); err != nil {
			return err
		}
		acquired = append(acquired, key)
	}

	return k.inner.RunInTx(ctx, keys, fn)
}

// acquire takes one key with bounded retries, then gives up with a transient
// error the caller can surface as such.
func (k *Keyed) acquire(ctx context.Context, key, token string) error {
	for attempt := 0; attempt < acquireTries; attempt++ {
		ok, err := k.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire identity lock")
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "identify aborted: context cancelled")
		case <-time.After(acquireBackoff):
		}
	}
	return dErrors.Wrap(sentinel.ErrLockHeld, dErrors.CodeUnavailable, "identity lock contention")
}

// redisKeys maps the invocation's values onto namespaced lock keys, sorted so
// every invocation acquires overlapping keys in the same order.
func redisKeys(keys service.LockKeys) []string {
	out := make([]string, 0, 2)
	if keys.Email != "" {
		out = append(out, "weld:lock:email:"+keys.Email)
	}
	if keys.Phone != "" {
		out = append(out, "weld:lock:phone:"+keys.Phone)
	}
	sort.Strings(out)
	return out
}
