// Package cluster materializes the full membership of one contact cluster.
package cluster

import (
	"context"
	"sort"

	"weld/internal/domain"
	dErrors "weld/pkg/domain-errors"
)

// maxChainDepth bounds link traversal. Healthy data is a flat star (depth 1);
// the extra headroom only exists so a corrupted chain surfaces as an error
// instead of an endless walk.
const maxChainDepth = 8

// Store is the read surface the materializer needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (domain.Contact, error)
	FindByLinkedTo(ctx context.Context, primaryID int64) ([]domain.Contact, error)
}

// Materializer resolves the transitive membership of a cluster. It has no
// side effects.
type Materializer struct {
	store Store
}

func New(store Store) *Materializer {
	return &Materializer{store: store}
}

// Materialize returns the primary followed by every contact transitively
// linked to it, the non-primary members ordered by (created_at, id). The
// traversal keeps a visited set and a depth bound so a secondary chained to
// another secondary is still collected once and a link cycle aborts with an
// error rather than looping.
func (m *Materializer) Materialize(ctx context.Context, primaryID int64) ([]domain.Contact, error) {
	primary, err := m.store.GetByID(ctx, primaryID)
	if err != nil {
		return nil, err
	}

	visited := map[int64]struct{}{primary.ID: {}}
	members := []domain.Contact{primary}
	frontier := []int64{primary.ID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxChainDepth {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "contact link chain exceeds depth bound")
		}
		var next []int64
		for _, id := range frontier {
			children, err := m.store.FindByLinkedTo(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if _, seen := visited[child.ID]; seen {
					continue
				}
				visited[child.ID] = struct{}{}
				members = append(members, child)
				next = append(next, child.ID)
			}
		}
		frontier = next
	}

	rest := members[1:]
	sort.Slice(rest, func(i, j int) bool {
		return domain.Less(rest[i], rest[j])
	})
	return members, nil
}
