// Package sink delivers extracted entities and relations to the knowledge
// graph. Delivery is a side channel: callers hand batches to Async, which
// retries through Retrying and drops what it cannot deliver.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/metrics"
)

// ErrBufferFull is returned when Async drops a batch because its buffer is full.
var ErrBufferFull = errors.New("sink buffer full")

// ErrClosed is returned when pushing to a closed Async sink.
var ErrClosed = errors.New("sink closed")

// Noop discards every batch.
type Noop struct{}

// Push implements crawler.Sink.
func (Noop) Push(context.Context, crawler.Batch) error {
	return nil
}

// Memory records batches in memory for development/testing.
type Memory struct {
	mu      sync.Mutex
	batches []crawler.Batch
}

// NewMemory constructs a Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Push implements crawler.Sink.
func (m *Memory) Push(_ context.Context, batch crawler.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

// Batches returns a copy of the recorded batches.
func (m *Memory) Batches() []crawler.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crawler.Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

// Retrying wraps a sink with bounded, jittered retries.
type Retrying struct {
	next   crawler.Sink
	policy *crawler.ExponentialRetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying constructs a Retrying sink.
func NewRetrying(next crawler.Sink, policy *crawler.ExponentialRetryPolicy, logger *zap.Logger) *Retrying {
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy(3, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger, sleep: sleepContext}
}

// Push implements crawler.Sink.
func (r *Retrying) Push(ctx context.Context, batch crawler.Batch) error {
	for attempt := 1; ; attempt++ {
		err := r.next.Push(ctx, batch)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !r.policy.ShouldRetry(err, attempt) {
			return fmt.Errorf("push after %d attempt(s): %w", attempt, err)
		}
		r.logger.Warn("sink push failed, retrying",
			zap.String("extraction_id", batch.JobID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := r.sleep(ctx, r.policy.Backoff(attempt-1)); err != nil {
			return fmt.Errorf("push backoff: %w", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Async delivers batches from a bounded buffer on background goroutines.
type Async struct {
	next    crawler.Sink
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan crawler.Batch
	wg     sync.WaitGroup
}

// AsyncConfig tunes Async.
type AsyncConfig struct {
	Buffer  int
	Workers int
	Timeout time.Duration
}

// NewAsync starts cfg.Workers delivery goroutines in front of next.
func NewAsync(next crawler.Sink, cfg AsyncConfig, logger *zap.Logger) *Async {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		next:    next,
		timeout: cfg.Timeout,
		logger:  logger,
		ch:      make(chan crawler.Batch, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go a.deliver()
	}
	return a
}

// Push enqueues batch without blocking. Empty batches are ignored.
func (a *Async) Push(_ context.Context, batch crawler.Batch) error {
	if batch.Empty() {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.ch <- batch:
		return nil
	default:
		metrics.ObserveSinkPush("dropped")
		a.logger.Warn("sink buffer full, dropping batch",
			zap.String("extraction_id", batch.JobID),
			zap.String("url", batch.URL),
			zap.Int("entities", len(batch.Entities)),
		)
		return ErrBufferFull
	}
}

func (a *Async) deliver() {
	defer a.wg.Done()
	for batch := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Push(ctx, batch)
		cancel()
		if err != nil {
			metrics.ObserveSinkPush("failed")
			a.logger.Error("sink push failed",
				zap.String("extraction_id", batch.JobID),
				zap.String("url", batch.URL),
				zap.Int("entities", len(batch.Entities)),
				zap.Int("relations", len(batch.Relations)),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveSinkPush("delivered")
	}
}

// Close stops accepting batches and waits for buffered ones to drain or ctx
// to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink drain: %w", ctx.Err())
	}
}
