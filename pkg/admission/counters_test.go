package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterIncrWithinWindow(t *testing.T) {
	s := NewMemoryCounterStore()
	now := time.Unix(1000, 0)

	for i := int64(1); i <= 3; i++ {
		count, windowStart, err := s.Incr(context.Background(), "k", 60, now)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Equal(t, int64(960), windowStart)
	}
}

func TestMemoryCounterResetsOnNewWindow(t *testing.T) {
	s := NewMemoryCounterStore()

	count, _, err := s.Incr(context.Background(), "k", 60, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 1020 falls in the next 60s window (starts at 1020).
	count, windowStart, err := s.Incr(context.Background(), "k", 60, time.Unix(1020, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1020), windowStart)
}

func TestMemoryCounterKeysAreIndependent(t *testing.T) {
	s := NewMemoryCounterStore()
	now := time.Unix(1000, 0)

	_, _, err := s.Incr(context.Background(), CounterKey("1.2.3.4", "/a", "GET"), 60, now)
	require.NoError(t, err)
	count, _, err := s.Incr(context.Background(), CounterKey("5.6.7.8", "/a", "GET"), 60, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryCounterPurgeDropsRuleCounters(t *testing.T) {
	s := NewMemoryCounterStore()
	now := time.Unix(1000, 0)

	_, _, err := s.Incr(context.Background(), CounterKey("1.2.3.4", "/a", "GET"), 60, now)
	require.NoError(t, err)
	_, _, err = s.Incr(context.Background(), CounterKey("1.2.3.4", "/b", "GET"), 60, now)
	require.NoError(t, err)

	require.NoError(t, s.Purge(context.Background(), RuleKeyPrefix("/a", "GET")))

	// /a restarts from one, /b keeps counting.
	count, _, err := s.Incr(context.Background(), CounterKey("1.2.3.4", "/a", "GET"), 60, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, _, err = s.Incr(context.Background(), CounterKey("1.2.3.4", "/b", "GET"), 60, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFixedWindowProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("window start bounds the observation time", prop.ForAll(
		func(epoch int64, window int) bool {
			s := NewMemoryCounterStore()
			now := time.Unix(epoch, 0)
			_, windowStart, err := s.Incr(context.Background(), "k", window, now)
			if err != nil {
				return false
			}
			return windowStart <= epoch && epoch < windowStart+int64(window) &&
				windowStart%int64(window) == 0
		},
		gen.Int64Range(0, 4102444800),
		gen.IntRange(1, 86400),
	))

	properties.Property("count never exceeds increments in one window", prop.ForAll(
		func(n int, window int) bool {
			s := NewMemoryCounterStore()
			now := time.Unix(1_700_000_000, 0)
			var last int64
			for i := 0; i < n; i++ {
				count, _, err := s.Incr(context.Background(), "k", window, now)
				if err != nil {
					return false
				}
				last = count
			}
			return last == int64(n)
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 86400),
	))

	properties.TestingRun(t)
}

func TestMemoryCounterConcurrentIncrementsNeverLost(t *testing.T) {
	s := NewMemoryCounterStore()
	now := time.Unix(1000, 0)

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _, _ = s.Incr(context.Background(), "k", 60, now)
			}
		}()
	}
	wg.Wait()

	count, _, err := s.Incr(context.Background(), "k", 60, now)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker+1), count)
}
