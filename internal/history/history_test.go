package history_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/tour-search/internal/history"
	"github.com/neexbeast/tour-search/internal/tour"
)

func newTestStore(t *testing.T) (*history.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return history.NewStore(client), mr
}

func entry(jobID int64) history.Entry {
	return history.Entry{
		JobID:     jobID,
		Request:   tour.SearchRequest{CityFromID: 832, CountryID: 119, DateFrom: "2025-06-01", DateTo: "2025-06-15"},
		StartedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_PushAndRecent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, "1.2.3.4", entry(1)))
	require.NoError(t, s.Push(ctx, "1.2.3.4", entry(2)))

	got, err := s.Recent(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].JobID, "newest first")
	assert.Equal(t, 119, got[1].Request.CountryID)
}

func TestStore_Recent_Unknown(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Recent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_TrimsToLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		require.NoError(t, s.Push(ctx, "ip", entry(int64(i))))
	}

	got, err := s.Recent(ctx, "ip")
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, int64(15), got[0].JobID)
	assert.Equal(t, int64(6), got[9].JobID)
}

func TestStore_Expires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Push(ctx, "ip", entry(1)))

	mr.FastForward(25 * time.Hour)

	got, err := s.Recent(ctx, "ip")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_IdentitiesAreSeparate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Push(ctx, "a", entry(1)))

	got, err := s.Recent(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CorruptEntry(t *testing.T) {
	s, mr := newTestStore(t)
	_, err := mr.Lpush("history:searches:ip", "not-json")
	require.NoError(t, err)

	_, err = s.Recent(context.Background(), "ip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling")
}

func TestStore_Ping(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	mr.Close()
	require.Error(t, s.Ping(context.Background()))
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := history.Connect(context.Background(), "not-a-url")
	require.Error(t, err)
}

func TestConnect_UnreachableServer(t *testing.T) {
	_, err := history.Connect(context.Background(), "redis://localhost:19999")
	require.Error(t, err)
}

func TestConnect_Miniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := history.Connect(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	require.NoError(t, client.Close())
}
