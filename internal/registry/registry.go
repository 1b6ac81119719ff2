// Package registry owns every extraction job known to the process. It
// validates submissions, seeds each job's frontier, hands job IDs to the
// worker pool, and serves snapshots to readers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/extract"
	"github.com/JakeFAU/doc-extractor/internal/frontier"
)

// IDPrefix is prepended to every generated job identifier.
const IDPrefix = "extraction_"

// Enqueuer accepts job IDs for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// SnapshotStore persists terminal job snapshots beyond in-memory retention.
type SnapshotStore interface {
	Save(ctx context.Context, job crawler.Job) error
	Load(ctx context.Context, id string) (crawler.Job, error)
	Delete(ctx context.Context, id string) error
}

// Config tunes registry behavior.
type Config struct {
	KeepQuery       bool
	ExpectedURLs    uint
	Retention       time.Duration
	JanitorInterval time.Duration
}

// Registry maps job IDs to runs.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	ended map[string]time.Time

	idGen    crawler.IDGenerator
	clock    crawler.Clock
	enqueuer Enqueuer
	store    SnapshotStore
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Registry. store may be nil.
func New(
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	enqueuer Enqueuer,
	store SnapshotStore,
	cfg Config,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	return &Registry{
		runs:     make(map[string]*Run),
		ended:    make(map[string]time.Time),
		idGen:    idGen,
		clock:    clock,
		enqueuer: enqueuer,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Submit validates req, registers a new job in the initialized state with its
// seed pending, and queues it for the worker pool. It never waits for crawling.
func (r *Registry) Submit(ctx context.Context, req crawler.ExtractionRequest) (crawler.Job, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return crawler.Job{}, err
	}

	rawID, err := r.idGen.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate id: %w", err)
	}
	id := IDPrefix + rawID

	job := crawler.Job{
		ID:            id,
		Request:       req,
		Status:        crawler.JobStatusInitialized,
		CompletedURLs: []string{},
		ErrorURLs:     []string{},
		Entities:      []crawler.Entity{},
		Relations:     []crawler.Relation{},
		Submitted:     r.clock.Now(),
	}
	maxDepth := req.MaxDepth
	if !req.Recursive {
		maxDepth = 0
	}
	run := newRun(job, frontier.New(maxDepth, r.cfg.KeepQuery, r.cfg.ExpectedURLs), r.clock)
	if !run.seed(req.URL) {
		return crawler.Job{}, crawler.InvalidRequestError("url %q cannot be crawled", req.URL)
	}

	r.mu.Lock()
	r.runs[id] = run
	r.mu.Unlock()

	if err := r.enqueuer.Enqueue(ctx, crawler.QueueItem{JobID: id, Submitted: job.Submitted.Unix()}); err != nil {
		r.mu.Lock()
		delete(r.runs, id)
		r.mu.Unlock()
		return crawler.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	r.logger.Info("extraction submitted",
		zap.String("extraction_id", id),
		zap.String("url", req.URL),
		zap.Bool("recursive", req.Recursive),
		zap.Int("max_depth", req.MaxDepth),
	)
	return run.Snapshot(), nil
}

// Run returns the live run for id.
func (r *Registry) Run(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// Get returns the latest snapshot for id. Evicted jobs are served from the
// snapshot store when one is configured.
func (r *Registry) Get(ctx context.Context, id string) (crawler.Job, error) {
	if run, ok := r.Run(id); ok {
		return run.Snapshot(), nil
	}
	if r.store == nil {
		return crawler.Job{}, crawler.ErrNotFound
	}
	job, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return crawler.Job{}, crawler.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("load snapshot: %w", err)
	}
	return job, nil
}

// ListEntities returns the entities of a completed job.
func (r *Registry) ListEntities(ctx context.Context, id string) ([]crawler.Entity, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != crawler.JobStatusCompleted {
		return nil, crawler.ErrNotReady
	}
	return job.Entities, nil
}

// Cancel stops a non-terminal job. Fetches already in flight still finish.
func (r *Registry) Cancel(ctx context.Context, id string) (crawler.Job, error) {
	run, ok := r.Run(id)
	if !ok {
		if _, err := r.Get(ctx, id); err != nil {
			return crawler.Job{}, err
		}
		return crawler.Job{}, crawler.ErrFinished
	}
	if !r.Finalize(ctx, run, crawler.JobStatusCancelled, "cancelled by request") {
		return run.Snapshot(), crawler.ErrFinished
	}
	return run.Snapshot(), nil
}

// Delete forgets a job. Running jobs are cancelled first.
func (r *Registry) Delete(ctx context.Context, id string) error {
	run, ok := r.Run(id)
	if ok {
		r.Finalize(ctx, run, crawler.JobStatusCancelled, "deleted")
		r.mu.Lock()
		delete(r.runs, id)
		delete(r.ended, id)
		r.mu.Unlock()
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			if !ok && errors.Is(err, crawler.ErrNotFound) {
				return crawler.ErrNotFound
			}
			if !errors.Is(err, crawler.ErrNotFound) {
				return fmt.Errorf("delete snapshot: %w", err)
			}
		}
		return nil
	}
	if !ok {
		return crawler.ErrNotFound
	}
	return nil
}

// Finalize moves run to a terminal status, starts its retention clock, and
// mirrors the snapshot to the store. It returns false if the run had already
// finished.
func (r *Registry) Finalize(ctx context.Context, run *Run, status crawler.JobStatus, errText string) bool {
	if !run.Finish(status, errText) {
		return false
	}
	r.mu.Lock()
	r.ended[run.ID()] = r.clock.Now()
	r.mu.Unlock()

	snap := run.Snapshot()
	r.logger.Info("extraction finished",
		zap.String("extraction_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.Int("completed_urls", len(snap.CompletedURLs)),
		zap.Int("error_urls", len(snap.ErrorURLs)),
		zap.Int("entities", len(snap.Entities)),
	)
	if r.store != nil {
		if err := r.store.Save(context.WithoutCancel(ctx), snap); err != nil {
			r.logger.Warn("snapshot save failed", zap.String("extraction_id", snap.ID), zap.Error(err))
		}
	}
	return true
}

// Persist re-saves the snapshot of a terminal run. Fetches that were in
// flight when the run finished still record their pages, so callers persist
// again once those have drained.
func (r *Registry) Persist(ctx context.Context, run *Run) {
	if r.store == nil {
		return
	}
	snap := run.Snapshot()
	if !snap.Status.Terminal() {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		r.logger.Warn("snapshot save failed", zap.String("extraction_id", snap.ID), zap.Error(err))
	}
}

// Sweep evicts terminal jobs older than the retention window and returns how
// many were removed.
func (r *Registry) Sweep() int {
	if r.cfg.Retention <= 0 {
		return 0
	}
	cutoff := r.clock.Now().Add(-r.cfg.Retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, at := range r.ended {
		if at.After(cutoff) {
			continue
		}
		delete(r.ended, id)
		delete(r.runs, id)
		evicted++
	}
	return evicted
}

// RunJanitor sweeps expired jobs until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context) {
	if r.cfg.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("evicted finished extractions", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of jobs held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

func normalizeRequest(req crawler.ExtractionRequest) (crawler.ExtractionRequest, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.Company = strings.TrimSpace(req.Company)
	req.Product = strings.TrimSpace(req.Product)

	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return req, crawler.InvalidRequestError("url must be absolute, got %q", req.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return req, crawler.InvalidRequestError("url scheme must be http or https, got %q", u.Scheme)
	}
	if req.Company == "" {
		return req, crawler.InvalidRequestError("company is required")
	}
	if req.MaxDepth < 0 {
		return req, crawler.InvalidRequestError("max_depth must be >= 0, got %d", req.MaxDepth)
	}
	if err := extract.ValidateSelectors(req.Selectors); err != nil {
		return req, crawler.InvalidRequestError("%v", err)
	}
	if req.CompanyType == "" {
		req.CompanyType = crawler.DefaultCompanyType
	}
	if req.ProductType == "" {
		req.ProductType = crawler.DefaultProductType
	}
	return req, nil
}
