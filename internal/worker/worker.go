// Package worker runs extraction jobs: it pulls URLs from a job's frontier,
// fetches and parses them, extracts entities, and records the results.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/extract"
	"github.com/JakeFAU/doc-extractor/internal/metrics"
	"github.com/JakeFAU/doc-extractor/internal/parser"
	"github.com/JakeFAU/doc-extractor/internal/progress"
	"github.com/JakeFAU/doc-extractor/internal/registry"
)

const (
	defaultConcurrency       = 8
	defaultPerJobConcurrency = 4
	defaultFetchTimeout      = 30 * time.Second
	defaultContentType       = "text/html; charset=utf-8"
)

// Config controls Worker behavior.
type Config struct {
	// Concurrency caps in-flight fetches across all jobs.
	Concurrency int
	// PerJobConcurrency caps in-flight fetches within one job.
	PerJobConcurrency int
	FetchTimeout      time.Duration
	// FetchAttempts is how many times a transient fetch failure is tried.
	FetchAttempts int
	// FatalErrorRatio fails a job once failures/attempts reaches it. Zero
	// disables the check.
	FatalErrorRatio       float64
	FatalErrorMinAttempts int
	// HeadlessAlways skips the HTTP probe and renders every page.
	HeadlessAlways bool
	// ArchivePrefix is the blob path prefix for archived pages.
	ArchivePrefix string
	ContentType   string
	// Topic receives a notification when a job finishes. Empty disables it.
	Topic string
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
	ReportStatus(rawURL string, status int)
}

// Scope decides which discovered links a job may follow.
type Scope interface {
	Filter(seed string, links []string) []string
}

// Deps are the collaborators a Worker needs. Registry, Probe, Sink and Clock
// are required; the rest may be nil.
type Deps struct {
	Registry  *registry.Registry
	Probe     crawler.Fetcher
	Headless  crawler.Fetcher
	Detector  crawler.HeadlessDetector
	Limiter   Limiter
	Scope     Scope
	Sink      crawler.Sink
	Archive   crawler.BlobStore
	Hasher    crawler.Hasher
	Publisher crawler.Publisher
	Progress  progress.Emitter
	Clock     crawler.Clock
}

// Worker executes extraction jobs handed to it by the dispatcher.
type Worker struct {
	deps   Deps
	cfg    Config
	slots  *semaphore.Weighted
	retry  *crawler.ExponentialRetryPolicy
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PerJobConcurrency <= 0 {
		cfg.PerJobConcurrency = defaultPerJobConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 1
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.Concurrency)),
		retry:  crawler.NewExponentialRetryPolicy(cfg.FetchAttempts, 250*time.Millisecond, 5*time.Second),
		logger: logger,
	}
}

// Handle runs the job named by item until its frontier drains, it is
// cancelled, or ctx ends.
func (w *Worker) Handle(ctx context.Context, item crawler.QueueItem) {
	run, ok := w.deps.Registry.Run(item.JobID)
	if !ok {
		w.logger.Warn("dequeued unknown extraction", zap.String("extraction_id", item.JobID))
		return
	}
	if !run.Start() {
		w.logger.Debug("extraction stopped before start", zap.String("extraction_id", item.JobID))
		return
	}
	started := w.deps.Clock.Now()
	req := run.Request()
	w.emit(progress.Event{JobID: run.ID(), Stage: progress.StageJobStart, URL: req.URL})
	w.logger.Info("extraction started", zap.String("extraction_id", run.ID()), zap.String("url", req.URL))

	w.pushContext(ctx, run)
	w.crawl(ctx, run)

	var finalized bool
	switch {
	case ctx.Err() != nil:
		finalized = w.deps.Registry.Finalize(ctx, run, crawler.JobStatusCancelled, "service shutting down")
	default:
		finalized = w.deps.Registry.Finalize(ctx, run, crawler.JobStatusCompleted, "")
	}
	if !finalized {
		// Finished earlier (cancel, fatal ratio); store the drained pages too.
		w.deps.Registry.Persist(ctx, run)
	}
	w.finish(ctx, run, w.deps.Clock.Now().Sub(started))
}

// crawl hands frontier tasks to goroutines until the job stops or runs dry,
// then waits for in-flight tasks.
func (w *Worker) crawl(ctx context.Context, run *registry.Run) {
	perJob := semaphore.NewWeighted(int64(w.cfg.PerJobConcurrency))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		task, state := run.Next()
		switch state {
		case registry.Stopped, registry.Exhausted:
			return
		case registry.Idle:
			select {
			case <-run.Changed():
			case <-ctx.Done():
				return
			}
			continue
		case registry.TaskReady:
		}

		if err := perJob.Acquire(ctx, 1); err != nil {
			run.Fail(task.URL, err)
			return
		}
		if err := w.slots.Acquire(ctx, 1); err != nil {
			perJob.Release(1)
			run.Fail(task.URL, err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer perJob.Release(1)
			defer w.slots.Release(1)
			w.process(ctx, run, task)
		}()
	}
}

// process handles one URL: fetch, parse, extract, archive, expand, record.
func (w *Worker) process(ctx context.Context, run *registry.Run, task crawler.URLTask) {
	req := run.Request()
	site := metrics.SanitizeSite(task.URL)

	resp, err := w.fetch(ctx, run.ID(), task)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown; Handle marks the job cancelled.
			run.Fail(task.URL, err)
			return
		}
		w.fail(ctx, run, task, site, err)
		return
	}

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = task.URL
	}
	doc := parser.Parse(pageURL, resp.Body, resp.ContentType())
	result := extract.Extract(doc, req)

	if uri := w.archive(ctx, run.ID(), task.URL, resp.Body); uri != "" {
		annotateArchive(result.Entities, uri)
	}

	// Links are admitted before the page is marked complete so the job can
	// never look exhausted while this page still has children to add.
	if req.Recursive && len(doc.Links) > 0 {
		links := doc.Links
		if w.deps.Scope != nil {
			links = w.deps.Scope.Filter(req.URL, links)
		}
		if n := run.Offer(links, task.Depth+1); n > 0 {
			w.logger.Debug("links admitted",
				zap.String("extraction_id", run.ID()),
				zap.String("url", task.URL),
				zap.Int("depth", task.Depth+1),
				zap.Int("count", n),
			)
		}
	}

	run.Complete(task.URL, result.Entities, result.Relations)
	metrics.ObservePage(site, "ok", len(resp.Body))
	for _, e := range result.Entities {
		metrics.ObserveEntity(e.EntityType)
	}
	w.emit(progress.Event{
		JobID:       run.ID(),
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         task.URL,
		Depth:       task.Depth,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Entities:    len(result.Entities),
		Dur:         resp.Duration,
	})

	batch := result.Batch(run.ID(), task.URL, req)
	if batch.Empty() {
		return
	}
	if err := w.deps.Sink.Push(ctx, batch); err != nil {
		w.logger.Warn("graph sink push failed",
			zap.String("extraction_id", run.ID()),
			zap.String("url", task.URL),
			zap.Error(err),
		)
	}
}

func (w *Worker) fail(ctx context.Context, run *registry.Run, task crawler.URLTask, site string, err error) {
	run.Fail(task.URL, err)
	metrics.ObservePage(site, "error", 0)
	w.emit(progress.Event{
		JobID: run.ID(),
		Stage: progress.StageFetchError,
		Site:  site,
		URL:   task.URL,
		Depth: task.Depth,
		Note:  err.Error(),
	})
	w.logger.Warn("fetch failed",
		zap.String("extraction_id", run.ID()),
		zap.String("url", task.URL),
		zap.Int("depth", task.Depth),
		zap.Error(err),
	)

	if task.Depth == 0 {
		w.deps.Registry.Finalize(ctx, run, crawler.JobStatusFailed, fmt.Sprintf("seed unreachable: %v", err))
		return
	}
	if w.cfg.FatalErrorRatio <= 0 {
		return
	}
	attempts, failures := run.ErrorStats()
	if attempts < w.cfg.FatalErrorMinAttempts {
		return
	}
	if ratio := float64(failures) / float64(attempts); ratio >= w.cfg.FatalErrorRatio {
		w.deps.Registry.Finalize(ctx, run, crawler.JobStatusFailed,
			fmt.Sprintf("error ratio %.2f reached after %d fetches", ratio, attempts))
	}
}

// fetch paces, fetches with retries for transient failures, and promotes
// SPA shells to the headless fetcher.
func (w *Worker) fetch(ctx context.Context, jobID string, task crawler.URLTask) (crawler.FetchResponse, error) {
	req := crawler.FetchRequest{JobID: jobID, URL: task.URL, Depth: task.Depth}
	for attempt := 1; ; attempt++ {
		if w.deps.Limiter != nil {
			if err := w.deps.Limiter.Wait(ctx, task.URL); err != nil {
				return crawler.FetchResponse{}, err
			}
		}
		resp, err := w.fetchOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		var fe *crawler.FetchError
		if errors.As(err, &fe) && fe.StatusCode > 0 && w.deps.Limiter != nil {
			w.deps.Limiter.ReportStatus(task.URL, fe.StatusCode)
		}
		if ctx.Err() != nil || !transient(err) || !w.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, err
		}
		select {
		case <-ctx.Done():
			return crawler.FetchResponse{}, fmt.Errorf("fetch retry canceled: %w", ctx.Err())
		case <-time.After(w.retry.Backoff(attempt)):
		}
	}
}

func (w *Worker) fetchOnce(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	if w.cfg.HeadlessAlways && w.deps.Headless != nil {
		req.UseHeadless = true
		resp, err := w.deps.Headless.Fetch(fetchCtx, req)
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
		}
		return resp, nil
	}

	resp, err := w.deps.Probe.Fetch(fetchCtx, req)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}
	if w.deps.Detector == nil || w.deps.Headless == nil || !w.deps.Detector.ShouldPromote(resp) {
		return resp, nil
	}

	req.UseHeadless = true
	rendered, err := w.deps.Headless.Fetch(fetchCtx, req)
	if err != nil {
		w.logger.Warn("headless promotion failed",
			zap.String("extraction_id", req.JobID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	w.logger.Debug("headless promotion applied", zap.String("extraction_id", req.JobID), zap.String("url", req.URL))
	return rendered, nil
}

// transient reports whether a failed fetch is worth repeating.
func transient(err error) bool {
	var fe *crawler.FetchError
	if !errors.As(err, &fe) || fe.StatusCode == 0 {
		return true
	}
	return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= http.StatusInternalServerError
}

// archive stores the page body and returns its URI, or "" when archiving is
// off or failed.
func (w *Worker) archive(ctx context.Context, jobID, pageURL string, body []byte) string {
	if w.deps.Archive == nil || w.deps.Hasher == nil || len(body) == 0 {
		return ""
	}
	digest, err := w.deps.Hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash page failed", zap.String("extraction_id", jobID), zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	uri, err := w.deps.Archive.PutObject(ctx, w.blobPath(jobID, digest), w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("archive page failed", zap.String("extraction_id", jobID), zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) blobPath(jobID, digest string) string {
	if w.cfg.ArchivePrefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", w.cfg.ArchivePrefix, jobID, digest)
}

func annotateArchive(entities []crawler.Entity, uri string) {
	for i := range entities {
		if entities[i].EntityType == crawler.EntityTypeDocumentation {
			entities[i].Observations = append(entities[i].Observations, "Archive: "+uri)
			return
		}
	}
}

// pushContext sends the company and product entities once per job and
// records the relation between them.
func (w *Worker) pushContext(ctx context.Context, run *registry.Run) {
	req := run.Request()
	result := extract.ContextEntities(req)
	run.AddRelations(result.Relations)
	batch := result.Batch(run.ID(), req.URL, req)
	if batch.Empty() {
		return
	}
	if err := w.deps.Sink.Push(ctx, batch); err != nil {
		w.logger.Warn("graph sink push failed", zap.String("extraction_id", run.ID()), zap.Error(err))
	}
}

// Notification is published when a job reaches a terminal status.
type Notification struct {
	ExtractionID string `json:"extraction_id"`
	Status       string `json:"status"`
	URL          string `json:"url"`
	Completed    int    `json:"completed"`
	Errors       int    `json:"errors"`
	Entities     int    `json:"entities"`
	Error        string `json:"error,omitempty"`
}

// Attributes lets subscribers filter on status.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"extraction_id": n.ExtractionID, "status": n.Status}
}

func (w *Worker) finish(ctx context.Context, run *registry.Run, elapsed time.Duration) {
	snap := run.Snapshot()
	metrics.ObserveJob(string(snap.Status))

	stage := progress.StageJobDone
	switch snap.Status {
	case crawler.JobStatusFailed:
		stage = progress.StageJobError
	case crawler.JobStatusCancelled:
		stage = progress.StageJobCancelled
	}
	w.emit(progress.Event{
		JobID:    snap.ID,
		Stage:    stage,
		URL:      snap.Request.URL,
		Entities: len(snap.Entities),
		Dur:      max(elapsed, 0),
		Note:     snap.ErrorText,
	})

	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	note := Notification{
		ExtractionID: snap.ID,
		Status:       string(snap.Status),
		URL:          snap.Request.URL,
		Completed:    len(snap.CompletedURLs),
		Errors:       len(snap.ErrorURLs),
		Entities:     len(snap.Entities),
		Error:        snap.ErrorText,
	}
	id, err := w.deps.Publisher.Publish(context.WithoutCancel(ctx), w.cfg.Topic, note)
	if err != nil {
		w.logger.Warn("publish notification failed", zap.String("extraction_id", snap.ID), zap.Error(err))
		return
	}
	w.logger.Debug("notification published", zap.String("extraction_id", snap.ID), zap.String("message_id", id))
}

func (w *Worker) emit(evt progress.Event) {
	evt.TS = w.deps.Clock.Now()
	w.deps.Progress.Emit(evt)
}
