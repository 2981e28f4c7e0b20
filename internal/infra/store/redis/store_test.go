package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewStore(cli), mr
}

func sampleRecord(id domain.ID) *domain.Record {
	return domain.NewRecord(id, domain.Input{Name: "Olena", Age: 27, Description: "cyclist"},
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestPutGetRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord("r1"), time.Hour))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "Olena", got.Input.Name)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)

	assert.Equal(t, time.Hour, mr.TTL("analysis:r1"))

	raw, err := mr.Get("analysis:r1")
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &wire))
	assert.Equal(t, "r1", wire["requestId"])
	assert.Equal(t, "pending", wire["status"])
	assert.Nil(t, wire["result"])
}

func TestGetMissingAndExpired(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	got, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, sampleRecord("r1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	got, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateRefreshesTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord("r1"), time.Hour))
	mr.FastForward(40 * time.Minute)
	assert.Equal(t, 20*time.Minute, mr.TTL("analysis:r1"))

	now := time.Date(2026, 3, 1, 10, 40, 0, 0, time.UTC)
	rec, err := s.Update(ctx, "r1", time.Hour, func(r *domain.Record) error { return r.Claim(now) })
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusProcessing, rec.Status)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Equal(t, time.Hour, mr.TTL("analysis:r1"))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.True(t, got.CreatedAt.Before(got.UpdatedAt))
}

func TestUpdateMissingDoesNotCreate(t *testing.T) {
	s, mr := newTestStore(t)

	rec, err := s.Update(context.Background(), "ghost", time.Hour, func(r *domain.Record) error {
		return r.Fail("x", time.Now())
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, mr.Exists("analysis:ghost"))
}

func TestUpdateMutationErrorAbortsWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord("r1"), time.Hour))
	_, err := s.Update(ctx, "r1", time.Hour, func(r *domain.Record) error { return r.Claim(time.Now()) })
	require.NoError(t, err)

	_, err = s.Update(ctx, "r1", time.Hour, func(r *domain.Record) error { return r.Claim(time.Now()) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.False(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	ctx := context.Background()

	err := s.Put(ctx, sampleRecord("r1"), time.Hour)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	_, err = s.Get(ctx, "r1")
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	_, err = s.Update(ctx, "r1", time.Hour, func(*domain.Record) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	assert.True(t, errors.Is(s.Ping(ctx), domain.ErrStoreUnavailable))
}
