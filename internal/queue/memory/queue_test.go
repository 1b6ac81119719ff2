package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "extraction_1"}))
	select {
	case got := <-result:
		require.Equal(t, "extraction_1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: id}))
	}
	require.Equal(t, 3, q.Len())
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.JobID)
	}
}

func TestQueueCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.ErrorIs(t, NewQueue(1).Enqueue(ctx, crawler.QueueItem{}), context.Canceled)
}

func TestQueueEnqueueFullReturnsImmediately(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))

	start := time.Now()
	err := q.Enqueue(context.Background(), crawler.QueueItem{JobID: "overflow"})
	require.ErrorIs(t, err, ErrFull)
	require.ErrorIs(t, err, crawler.ErrQueueFull)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, 1, q.Len())
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()

	q.Close()
	q.Close()
	wg.Wait()
	require.ErrorIs(t, <-errs, ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "late"}), ErrClosed)
}
