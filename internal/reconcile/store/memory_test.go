package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weld/internal/domain"
	"weld/pkg/platform/sentinel"
)

func TestMemoryCandidateOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	s.SetClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	})

	first, err := s.Create(ctx, domain.CreateParams{Email: "a@x.com", Precedence: domain.PrecedencePrimary})
	require.NoError(t, err)
	second, err := s.Create(ctx, domain.CreateParams{Phone: "123", Precedence: domain.PrecedencePrimary})
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.CreateParams{Email: "other@x.com", Precedence: domain.PrecedencePrimary})
	require.NoError(t, err)

	got, err := s.FindCandidates(ctx, "a@x.com", "123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	// Empty arguments must not match NULL columns.
	got, err = s.FindCandidates(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryDemoteAndRelink(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	oldPrimary, err := s.Create(ctx, domain.CreateParams{Email: "old@x.com", Precedence: domain.PrecedencePrimary})
	require.NoError(t, err)
	child, err := s.Create(ctx, domain.CreateParams{Phone: "777", LinkedID: &oldPrimary.ID, Precedence: domain.PrecedenceSecondary})
	require.NoError(t, err)
	newPrimary, err := s.Create(ctx, domain.CreateParams{Email: "new@x.com", Precedence: domain.PrecedencePrimary})
	require.NoError(t, err)

	require.NoError(t, s.RelinkChildren(ctx, oldPrimary.ID, newPrimary.ID))
	require.NoError(t, s.DemoteToSecondary(ctx, oldPrimary.ID, newPrimary.ID))

	demoted, err := s.GetByID(ctx, oldPrimary.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PrecedenceSecondary, demoted.Precedence)
	require.NotNil(t, demoted.LinkedID)
	assert.Equal(t, newPrimary.ID, *demoted.LinkedID)

	moved, err := s.GetByID(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.LinkedID)
	assert.Equal(t, newPrimary.ID, *moved.LinkedID)
	assert.True(t, moved.UpdatedAt.After(moved.CreatedAt) || moved.UpdatedAt.Equal(moved.CreatedAt))
}

func TestMemoryGetByIDNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	err = s.DemoteToSecondary(context.Background(), 42, 1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryIgnoresSoftDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	now := time.Now()
	email := "gone@x.com"
	require.NoError(t, s.Save(ctx, domain.Contact{
		ID:         7,
		Email:      &email,
		Precedence: domain.PrecedencePrimary,
		CreatedAt:  now,
		UpdatedAt:  now,
		DeletedAt:  &now,
	}))

	got, err := s.FindCandidates(ctx, "gone@x.com", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetByID(ctx, 7)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
