package cache_test

import (
	"testing"

	"wisefido-vitals/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intsEqual(a, b int) bool { return a == b }

func TestObservable_InitiallyAbsent(t *testing.T) {
	o := cache.NewObservable(intsEqual)

	v, version := o.Get()
	assert.Equal(t, 0, v)
	assert.Equal(t, uint64(0), version)
	assert.False(t, o.Present())
}

func TestObservable_PublishDeduplicates(t *testing.T) {
	o := cache.NewObservable(intsEqual)
	ch, cancel := o.Subscribe()
	defer cancel()

	assert.True(t, o.Publish(1))
	assert.Equal(t, cache.Update[int]{Value: 1, Version: 1}, <-ch)
	assert.False(t, o.Publish(1))
	assert.Len(t, ch, 0)
	assert.True(t, o.Publish(2))

	_, version := o.Get()
	assert.Equal(t, uint64(2), version)
	assert.Equal(t, cache.Update[int]{Value: 2, Version: 2}, <-ch)
	assert.Len(t, ch, 0)
}

func TestObservable_FirstPublishOfZeroValue(t *testing.T) {
	o := cache.NewObservable(intsEqual)

	assert.True(t, o.Publish(0), "first publish always lands even if equal to zero value")
	assert.True(t, o.Present())
}

func TestObservable_SetAlwaysReplaces(t *testing.T) {
	o := cache.NewObservable(intsEqual)
	o.Set(5)
	o.Set(5)

	v, version := o.Get()
	assert.Equal(t, 5, v)
	assert.Equal(t, uint64(2), version)
}

func TestObservable_SlowSubscriberKeepsLatest(t *testing.T) {
	o := cache.NewObservable(intsEqual)
	ch, cancel := o.Subscribe()

	for i := 1; i <= 10; i++ {
		o.Set(i)
	}
	assert.Equal(t, cache.Update[int]{Value: 10, Version: 10}, <-ch)
	assert.Len(t, ch, 0)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, o.Subscribers())

	require.NotPanics(t, func() { o.Set(11) })
}
