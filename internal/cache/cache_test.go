package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetLoadsOnceAndCachesTheResult(t *testing.T) {
	c := New(10)
	var loads atomic.Int32

	load := func() (any, error) {
		loads.Add(1)
		return "value", nil
	}

	v, err := c.Get(Key{SSTID: 1, BlockIdx: 0}, load)
	require.NoError(t, err)
	require.Equal(t, "value", v)

	v, err = c.Get(Key{SSTID: 1, BlockIdx: 0}, load)
	require.NoError(t, err)
	require.Equal(t, "value", v)
	require.EqualValues(t, 1, loads.Load(), "a second Get of the same key must not re-invoke the loader")
}

func TestConcurrentMissesOnSameKeyShareOneLoad(t *testing.T) {
	c := New(10)
	var loads atomic.Int32
	start := make(chan struct{})

	load := func() (any, error) {
		loads.Add(1)
		<-start
		return "value", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(Key{SSTID: 1, BlockIdx: 0}, load)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, loads.Load(), "concurrent misses on the same key must share a single load")
	for _, v := range results {
		require.Equal(t, "value", v)
	}
}

func TestEvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	c := New(2)
	load := func(v any) LoadFunc { return func() (any, error) { return v, nil } }

	_, err := c.Get(Key{SSTID: 1}, load("a"))
	require.NoError(t, err)
	_, err = c.Get(Key{SSTID: 2}, load("b"))
	require.NoError(t, err)

	// touch key 1 so it is most-recently-used
	_, err = c.Get(Key{SSTID: 1}, load("a"))
	require.NoError(t, err)

	_, err = c.Get(Key{SSTID: 3}, load("c"))
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())

	var evictedLoadCount atomic.Int32
	_, err = c.Get(Key{SSTID: 2}, func() (any, error) {
		evictedLoadCount.Add(1)
		return "b-reloaded", nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, evictedLoadCount.Load(), "key 2 was the least recently used and should have been evicted")
}

func TestInvalidateRemovesOneEntry(t *testing.T) {
	c := New(10)
	_, err := c.Get(Key{SSTID: 1}, func() (any, error) { return "a", nil })
	require.NoError(t, err)

	c.Invalidate(Key{SSTID: 1})
	require.Zero(t, c.Len())
}

func TestInvalidateSSTRemovesOnlyThatSSTsBlocks(t *testing.T) {
	c := New(10)
	_, err := c.Get(Key{SSTID: 1, BlockIdx: 0}, func() (any, error) { return "a", nil })
	require.NoError(t, err)
	_, err = c.Get(Key{SSTID: 1, BlockIdx: 1}, func() (any, error) { return "b", nil })
	require.NoError(t, err)
	_, err = c.Get(Key{SSTID: 2, BlockIdx: 0}, func() (any, error) { return "c", nil })
	require.NoError(t, err)

	c.InvalidateSST(1)
	require.Equal(t, 1, c.Len())
}
