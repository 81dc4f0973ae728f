package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := New(Options{Rate: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("1.2.3.4"), "burst slot %d should be admitted", i)
	}
	require.False(t, l.Allow("1.2.3.4"), "fourth connection should exceed the burst")
}

func TestReleasePrunesEmptyBucket(t *testing.T) {
	l := New(DefaultOptions())
	require.True(t, l.Allow("1.2.3.4"))

	l.mu.Lock()
	_, tracked := l.buckets["1.2.3.4"]
	l.mu.Unlock()
	require.True(t, tracked)

	l.Release("1.2.3.4")

	l.mu.Lock()
	_, stillTracked := l.buckets["1.2.3.4"]
	l.mu.Unlock()
	require.False(t, stillTracked, "bucket with no in-flight connections should be pruned")
}

func TestDistinctIPsTrackedIndependently(t *testing.T) {
	l := New(Options{Rate: rate.Limit(1), Burst: 1})
	require.True(t, l.Allow("1.1.1.1"))
	require.True(t, l.Allow("2.2.2.2"))
	require.False(t, l.Allow("1.1.1.1"))
}
