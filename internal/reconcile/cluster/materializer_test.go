package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weld/internal/domain"
	"weld/internal/reconcile/store"
	dErrors "weld/pkg/domain-errors"
	"weld/pkg/platform/sentinel"
)

func seed(t *testing.T, s *store.Memory, contacts ...domain.Contact) {
	t.Helper()
	for _, c := range contacts {
		require.NoError(t, s.Save(context.Background(), c))
	}
}

func contact(id int64, createdAt time.Time, linkedID *int64) domain.Contact {
	prec := domain.PrecedencePrimary
	if linkedID != nil {
		prec = domain.PrecedenceSecondary
	}
	return domain.Contact{
		ID:         id,
		Precedence: prec,
		LinkedID:   linkedID,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func link(id int64) *int64 { return &id }

func TestMaterializeStarTopology(t *testing.T) {
	s := store.NewMemory()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Secondaries seeded out of creation order on purpose.
	seed(t, s,
		contact(1, base, nil),
		contact(5, base.Add(3*time.Minute), link(1)),
		contact(3, base.Add(1*time.Minute), link(1)),
		contact(4, base.Add(1*time.Minute), link(1)), // same created_at as 3, larger id
	)

	members, err := New(s).Materialize(context.Background(), 1)
	require.NoError(t, err)

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 3, 4, 5}, ids, "primary first, then (created_at, id) order")
}

func TestMaterializeSingleton(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, contact(1, time.Now(), nil))

	members, err := New(s).Materialize(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(1), members[0].ID)
}

func TestMaterializeMissingPrimary(t *testing.T) {
	s := store.NewMemory()
	_, err := New(s).Materialize(context.Background(), 99)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMaterializeMalformedChain(t *testing.T) {
	// A secondary whose link points at another secondary should never exist,
	// but the traversal must still collect it exactly once and terminate.
	s := store.NewMemory()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s,
		contact(1, base, nil),
		contact(2, base.Add(time.Minute), link(1)),
		contact(3, base.Add(2*time.Minute), link(2)), // chained to a secondary
	)

	members, err := New(s).Materialize(context.Background(), 1)
	require.NoError(t, err)

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestMaterializeDepthBound(t *testing.T) {
	// A chain deeper than the guard allows must abort with a consistency
	// error instead of walking forever.
	s := store.NewMemory()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seed(t, s, contact(1, base, nil))
	for i := int64(2); i <= 12; i++ {
		seed(t, s, contact(i, base.Add(time.Duration(i)*time.Second), link(i-1)))
	}

	_, err := New(s).Materialize(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
