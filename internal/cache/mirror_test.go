package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleSnapshot() models.Snapshot {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	snap := models.NewSnapshot(models.SnapshotCategories)
	snap.Put(models.CategorySteps, &models.Record{
		ID: "s1", Category: models.CategorySteps, StartTime: at, EndTime: at.Add(time.Hour),
		Steps: &models.StepsPayload{Count: 3000},
	})
	return snap
}

func TestSnapshotMirror_WriteAndLoadSnapshot(t *testing.T) {
	kv := newFakeKVStore()
	events := &fakeEvents{}
	m := cache.NewSnapshotMirror(kv, events, zap.NewNop(), time.Minute)
	ctx := context.Background()

	_, err := m.LoadSnapshot(ctx, "latest-week")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, m.WriteSnapshot(ctx, "latest-week", sampleSnapshot(), 3))

	doc, err := m.LoadSnapshot(ctx, "latest-week")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), doc.Version)
	rec, ok := doc.Snapshot.Latest(models.CategorySteps)
	require.True(t, ok)
	assert.Equal(t, int64(3000), rec.Steps.Count)

	assert.Equal(t, time.Minute, kv.ttls["vitals:latest-week:snapshot"])
	assert.Equal(t, []string{cache.EventSnapshotUpdated}, events.events)
}

func TestSnapshotMirror_EventFailureIsNotFatal(t *testing.T) {
	kv := newFakeKVStore()
	events := &fakeEvents{err: errors.New("stream down")}
	m := cache.NewSnapshotMirror(kv, events, zap.NewNop(), 0)

	metrics := []models.Metric{{Type: models.MetricStepCount, Value: "3000.0", Unit: "count"}}
	require.NoError(t, m.WriteMetrics(context.Background(), "monthly", metrics, 1))

	doc, err := m.LoadMetrics(context.Background(), "monthly")
	require.NoError(t, err)
	assert.Equal(t, metrics, doc.Metrics)
}

func TestRedisMirror_Miniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	kv := cache.NewRedisKVStore(client)
	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	m := cache.NewSnapshotMirror(kv, cache.NewStreamPublisher(client, "", 100), zap.NewNop(), time.Hour)
	require.NoError(t, m.WriteSnapshot(ctx, "latest-week", sampleSnapshot(), 1))

	assert.True(t, mr.Exists(cache.SnapshotKey("latest-week")))
	assert.Equal(t, time.Hour, mr.TTL(cache.SnapshotKey("latest-week")))

	entries, err := client.XRange(ctx, cache.EventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, cache.EventSnapshotUpdated, entries[0].Values["event"])
}
