package instancestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ttl time.Duration) (*redisInstanceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisInstanceStore(rdb, ttl), mr
}

func TestPublishAndList(t *testing.T) {
	s, _ := newStore(t, time.Minute)
	ctx := context.Background()

	now := time.Unix(1700000000, 0)
	report := json.RawMessage(`{"status":"healthy"}`)
	require.NoError(t, s.Publish(ctx, Snapshot{ID: "w2", Status: "degraded", Reason: "cpu 95%", ActiveTasks: 1, MaxTasks: 4, UpdatedAt: now}))
	require.NoError(t, s.Publish(ctx, Snapshot{ID: "w1", Status: "healthy", Ready: true, ActiveTasks: 3, MaxTasks: 4, UpdatedAt: now, Report: report}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "w1", list[0].ID)
	assert.True(t, list[0].Ready)
	assert.Equal(t, 3, list[0].ActiveTasks)
	assert.True(t, now.Equal(list[0].UpdatedAt))
	assert.JSONEq(t, string(report), string(list[0].Report))

	assert.Equal(t, "w2", list[1].ID)
	assert.False(t, list[1].Ready)
	assert.Equal(t, "cpu 95%", list[1].Reason)
}

func TestSnapshotExpires(t *testing.T) {
	s, mr := newStore(t, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, Snapshot{ID: "w1", Status: "healthy"}))
	assert.Equal(t, 10*time.Second, mr.TTL(instanceKey("w1")))

	mr.FastForward(11 * time.Second)
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRepublishRefreshesTTL(t *testing.T) {
	s, mr := newStore(t, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, Snapshot{ID: "w1", Status: "healthy"}))
	mr.FastForward(8 * time.Second)
	require.NoError(t, s.Publish(ctx, Snapshot{ID: "w1", Status: "degraded"}))
	mr.FastForward(8 * time.Second)

	snap, ok, err := s.Instance(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "degraded", snap.Status)
}

func TestRemove(t *testing.T) {
	s, _ := newStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, Snapshot{ID: "w1"}))
	require.NoError(t, s.Remove(ctx, "w1"))
	_, ok, err := s.Instance(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.Publish(ctx, Snapshot{}))
}
