package worker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	var batches [][]int
	b := NewBatcher(3, 0, func(items []int) error {
		batches = append(batches, items)
		return nil
	})

	for i := 1; i <= 7; i++ {
		require.NoError(t, b.Add(i))
	}
	require.Len(t, batches, 2)
	require.Equal(t, []int{1, 2, 3}, batches[0])
	require.Equal(t, []int{4, 5, 6}, batches[1])

	require.NoError(t, b.Stop())
	require.Len(t, batches, 3)
	require.Equal(t, []int{7}, batches[2])
	require.Equal(t, 7, b.Flushed())

	require.Error(t, b.Add(8))
	require.NoError(t, b.Stop())
}

func TestBatcherTimerFlush(t *testing.T) {
	var mu sync.Mutex
	var flushed []string
	b := NewBatcher(100, 20*time.Millisecond, func(items []string) error {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, items...)
		return nil
	})

	require.NoError(t, b.Add("a"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop())
}

func TestBatcherFlushError(t *testing.T) {
	b := NewBatcher(2, 0, func(items []int) error {
		return errors.New("write failed")
	})

	require.NoError(t, b.Add(1))
	require.EqualError(t, b.Add(2), "write failed")
	require.Zero(t, b.Flushed())
}
