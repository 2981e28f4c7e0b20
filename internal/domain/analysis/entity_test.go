package analysis

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecord("id-1", Input{Name: "Olena", Age: 27, Description: "x"}, now)

	assert.Equal(t, StatusPending, r.Status)
	assert.Nil(t, r.Result)
	assert.Nil(t, r.Error)
	assert.Equal(t, now, r.CreatedAt)
	assert.Equal(t, now, r.UpdatedAt)

	later := now.Add(time.Minute)
	require.NoError(t, r.Claim(later))
	assert.Equal(t, StatusProcessing, r.Status)
	assert.Equal(t, later, r.UpdatedAt)
	assert.Equal(t, now, r.CreatedAt)

	require.NoError(t, r.Complete("insight", later))
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.Result)
	assert.Equal(t, "insight", *r.Result)
	assert.Nil(t, r.Error)
}

func TestRecordTerminalStatesAreFinal(t *testing.T) {
	now := time.Now()

	completed := NewRecord("a", Input{}, now)
	require.NoError(t, completed.Complete("ok", now))
	assert.True(t, errors.Is(completed.Fail("boom", now), ErrInvalidTransition))
	assert.True(t, errors.Is(completed.Claim(now), ErrInvalidTransition))
	assert.True(t, errors.Is(completed.Complete("again", now), ErrInvalidTransition))
	assert.Equal(t, "ok", *completed.Result)
	assert.Nil(t, completed.Error)

	failed := NewRecord("b", Input{}, now)
	require.NoError(t, failed.Fail("boom", now))
	assert.True(t, errors.Is(failed.Complete("ok", now), ErrInvalidTransition))
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Nil(t, failed.Result)
	assert.Equal(t, "boom", *failed.Error)
}

func TestClaimRequiresPending(t *testing.T) {
	r := NewRecord("a", Input{}, time.Now())
	require.NoError(t, r.Claim(time.Now()))
	err := r.Claim(time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "processing -> processing")
}

func TestFailFromPendingAndClone(t *testing.T) {
	r := NewRecord("a", Input{}, time.Now())
	require.NoError(t, r.Fail("queue down", time.Now()))

	c := r.Clone()
	*c.Error = "changed"
	assert.Equal(t, "queue down", *r.Error)
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusProcessing.Valid())
	assert.False(t, Status("done").Valid())
}
