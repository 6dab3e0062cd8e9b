//go:build integration

package locks_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"weld/internal/reconcile/locks"
	"weld/internal/reconcile/service"
	"weld/internal/reconcile/store"
	dErrors "weld/pkg/domain-errors"
	"weld/pkg/testutil/containers"
)

// passthroughTx runs the closure directly so tests observe only the Redis
// lock behaviour, not the inner strategy's.
type passthroughTx struct {
	store service.Store
}

func (p passthroughTx) RunInTx(_ context.Context, _ service.LockKeys, fn func(ctx context.Context, store service.Store) error) error {
	return fn(context.Background(), p.store)
}

func newKeyed(t *testing.T) (*locks.Keyed, *containers.RedisContainer) {
	t.Helper()
	redis := containers.NewRedisContainer(t)
	inner := passthroughTx{store: store.NewMemory()}
	return locks.NewKeyed(redis.Client, inner), redis
}

func TestKeyedSerializesSharedKey(t *testing.T) {
	keyed, _ := newKeyed(t)

	var inside, maxInside int32
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			return keyed.RunInTx(context.Background(), service.LockKeys{Email: "shared@x.com"}, func(ctx context.Context, _ service.Store) error {
				now := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxInside)
					if now <= seen || atomic.CompareAndSwapInt32(&maxInside, seen, now) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside), "critical sections on a shared key must not overlap")
}

func TestKeyedDisjointKeysRunInParallel(t *testing.T) {
	keyed, _ := newKeyed(t)

	firstEntered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = keyed.RunInTx(context.Background(), service.LockKeys{Email: "one@x.com"}, func(ctx context.Context, _ service.Store) error {
			close(firstEntered)
			<-release
			return nil
		})
	}()

	<-firstEntered

	done := make(chan error, 1)
	go func() {
		done <- keyed.RunInTx(context.Background(), service.LockKeys{Email: "two@x.com"}, func(ctx context.Context, _ service.Store) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("disjoint keys should not block each other")
	}
	close(release)
	wg.Wait()
}

func TestKeyedContentionSurfacesTransient(t *testing.T) {
	keyed, redis := newKeyed(t)
	ctx := context.Background()

	// A foreign holder that never releases within the bounded acquire window.
	require.NoError(t, redis.Client.Set(ctx, "weld:lock:email:held@x.com", "foreign-token", time.Minute).Err())

	err := keyed.RunInTx(ctx, service.LockKeys{Email: "held@x.com"}, func(ctx context.Context, _ service.Store) error {
		t.Fatal("closure must not run without the lock")
		return nil
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))

	// Giving up must not clobber the foreign holder's lock.
	held, getErr := redis.Client.Get(ctx, "weld:lock:email:held@x.com").Result()
	require.NoError(t, getErr)
	assert.Equal(t, "foreign-token", held)
}

func TestKeyedReleasesLocksAfterRun(t *testing.T) {
	keyed, redis := newKeyed(t)
	ctx := context.Background()

	err := keyed.RunInTx(ctx, service.LockKeys{Email: "done@x.com", Phone: "42"}, func(ctx context.Context, _ service.Store) error {
		return nil
	})
	require.NoError(t, err)

	for _, key := range []string{"weld:lock:email:done@x.com", "weld:lock:phone:42"} {
		n, existsErr := redis.Client.Exists(ctx, key).Result()
		require.NoError(t, existsErr)
		assert.Zero(t, n, "lock %s must be released", key)
	}
}
