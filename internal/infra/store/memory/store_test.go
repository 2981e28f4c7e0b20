package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

func TestStoreTTLResetsOnWrite(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	rec := domain.NewRecord("r1", domain.Input{Name: "a", Age: 1, Description: "d"}, now)
	require.NoError(t, s.Put(ctx, rec, time.Hour))

	now = now.Add(50 * time.Minute)
	updated, err := s.Update(ctx, "r1", time.Hour, func(r *domain.Record) error { return r.Claim(now) })
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, domain.StatusProcessing, updated.Status)

	// 70 minutes after creation but only 20 after the last write
	now = now.Add(20 * time.Minute)
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(41 * time.Minute)
	got, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreUpdateNeverCreates(t *testing.T) {
	s := New()
	called := false
	rec, err := s.Update(context.Background(), "missing", time.Hour, func(*domain.Record) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, called)

	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreUpdateAbortLeavesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := domain.NewRecord("r1", domain.Input{}, time.Now())
	require.NoError(t, rec.Complete("done", time.Now()))
	require.NoError(t, s.Put(ctx, rec, time.Hour))

	_, err := s.Update(ctx, "r1", time.Hour, func(r *domain.Record) error { return r.Fail("late", time.Now()) })
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "done", *got.Result)
	assert.Nil(t, got.Error)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.NewRecord("r1", domain.Input{Name: "x"}, time.Now()), time.Hour))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	got.Status = domain.StatusFailed

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)
}
