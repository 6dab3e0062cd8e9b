package service

import (
	"context"
	"sort"
	"sync"
	"time"

	dErrors "weld/pkg/domain-errors"
)

// keyedTx provides per-key mutual exclusion for deployments without a
// database: invocations touching the same normalized email or phone
// serialize, everything else runs in parallel. Keys hash onto a fixed set of
// sharded mutexes; shards are always taken in index order so two invocations
// can never hold each other's shard while waiting.
const numLockShards = 128

// defaultTxTimeout is the maximum duration for one identify invocation.
const defaultTxTimeout = 5 * time.Second

type keyedTx struct {
	shards  [numLockShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewKeyedTx builds the in-memory lock strategy over the given store.
func NewKeyedTx(store Store) TxStrategy {
	return &keyedTx{store: store}
}

func (t *keyedTx) RunInTx(ctx context.Context, keys LockKeys, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "identify aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shards := t.shardsFor(keys)
	for _, shard := range shards {
		t.shards[shard].Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			t.shards[shards[i]].Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "identify aborted: context cancelled")
	}

	return fn(ctx, t.store)
}

// shardsFor returns the distinct shard indexes for the invocation's keys, in
// ascending order. Email and phone keys live in separate namespaces so the
// same literal value used as both cannot alias.
func (t *keyedTx) shardsFor(keys LockKeys) []int {
	distinct := make(map[int]struct{}, 2)
	if keys.Email != "" {
		distinct[int(hashKey("e\x00"+keys.Email)%numLockShards)] = struct{}{}
	}
	if keys.Phone != "" {
		distinct[int(hashKey("p\x00"+keys.Phone)%numLockShards)] = struct{}{}
	}
	shards := make([]int, 0, len(distinct))
	for shard := range distinct {
		shards = append(shards, shard)
	}
	sort.Ints(shards)
	return shards
}

// hashKey uses FNV-1a for even distribution across shards.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
