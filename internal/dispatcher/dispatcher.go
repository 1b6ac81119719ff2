// Package dispatcher pulls submitted jobs off the queue and runs them with a
// bounded number of jobs active at once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

const dequeueBackoff = 100 * time.Millisecond

// Handler runs one dequeued job to completion.
type Handler interface {
	Handle(ctx context.Context, item crawler.QueueItem)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item crawler.QueueItem)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, item crawler.QueueItem) {
	f(ctx, item)
}

// Dispatcher fans queue work out to a handler.
type Dispatcher struct {
	queue     crawler.Queue
	maxActive int64
	logger    *zap.Logger
}

// New creates a Dispatcher. maxActive <= 0 means one job at a time.
func New(queue crawler.Queue, maxActive int, logger *zap.Logger) *Dispatcher {
	if maxActive <= 0 {
		maxActive = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, maxActive: int64(maxActive), logger: logger}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Run dequeues until ctx ends or the queue closes, then waits for active jobs.
func (d *Dispatcher) Run(ctx context.Context, h Handler) {
	slots := semaphore.NewWeighted(d.maxActive)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := slots.Acquire(ctx, 1); err != nil {
			return
		}
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			slots.Release(1)
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			d.logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)
			h.Handle(ctx, item)
		}()
	}
}
