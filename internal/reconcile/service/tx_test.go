package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weld/internal/reconcile/store"
	dErrors "weld/pkg/domain-errors"
)

func TestKeyedTxSerializesSameKey(t *testing.T) {
	strategy := NewKeyedTx(store.NewMemory())

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := strategy.RunInTx(context.Background(), LockKeys{Email: "same@x.com"}, func(ctx context.Context, _ Store) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "invocations sharing a key must not overlap")
}

func TestKeyedTxDisjointKeysRunInParallel(t *testing.T) {
	strategy := NewKeyedTx(store.NewMemory()).(*keyedTx)

	// Pick two keys that land on different shards so the test is meaningful.
	keyA := "a@x.com"
	keyB := "b@y.com"
	for hashKey("e\x00"+keyA)%numLockShards == hashKey("e\x00"+keyB)%numLockShards {
		keyB += "x"
	}

	release := make(chan struct{})
	holding := make(chan struct{})

	go func() {
		_ = strategy.RunInTx(context.Background(), LockKeys{Email: keyA}, func(ctx context.Context, _ Store) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding

	done := make(chan error, 1)
	go func() {
		done <- strategy.RunInTx(context.Background(), LockKeys{Email: keyB}, func(ctx context.Context, _ Store) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("disjoint key was blocked by an unrelated invocation")
	}
	close(release)
}

func TestKeyedTxCancelledContext(t *testing.T) {
	strategy := NewKeyedTx(store.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := strategy.RunInTx(ctx, LockKeys{Email: "a@x.com"}, func(ctx context.Context, _ Store) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestKeyedTxSameValueInBothNamespaces(t *testing.T) {
	// The same literal value as email and phone must produce two distinct
	// keys; acquiring both must not self-deadlock even if they collide on
	// one shard.
	strategy := NewKeyedTx(store.NewMemory())

	err := strategy.RunInTx(context.Background(), LockKeys{Email: "123", Phone: "123"}, func(ctx context.Context, _ Store) error {
		return nil
	})
	require.NoError(t, err)
}
