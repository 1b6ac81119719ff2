package registry

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/frontier"
)

// NextState describes the outcome of Run.Next.
type NextState int

// Possible results of Run.Next.
const (
	// TaskReady means a task was handed out and counted as in flight.
	TaskReady NextState = iota
	// Idle means the frontier is empty but fetches are still in flight.
	Idle
	// Exhausted means the frontier is empty and nothing is in flight.
	Exhausted
	// Stopped means the job reached a terminal status.
	Stopped
)

// Run is the mutable state of one extraction job. All mutation happens under
// mu; readers load the most recently published snapshot without locking.
type Run struct {
	id       string
	clock    crawler.Clock
	frontier *frontier.Frontier

	mu       sync.Mutex
	job      crawler.Job
	pending  []string
	inFlight int
	relSeen  map[crawler.Relation]struct{}
	attempts int
	failures int

	snapshot atomic.Pointer[crawler.Job]
	changed  chan struct{}
}

func newRun(job crawler.Job, f *frontier.Frontier, clock crawler.Clock) *Run {
	r := &Run{
		id:       job.ID,
		clock:    clock,
		frontier: f,
		job:      job,
		relSeen:  make(map[crawler.Relation]struct{}),
		changed:  make(chan struct{}, 1),
	}
	r.publishLocked()
	return r
}

// ID returns the job identifier.
func (r *Run) ID() string {
	return r.id
}

// Request returns the submitted request.
func (r *Run) Request() crawler.ExtractionRequest {
	return r.job.Request
}

// Snapshot returns the latest published view of the job.
func (r *Run) Snapshot() crawler.Job {
	return *r.snapshot.Load()
}

// Changed is signalled whenever a task finishes or the job stops.
func (r *Run) Changed() <-chan struct{} {
	return r.changed
}

// seed admits the seed URL at depth 0.
func (r *Run) seed(rawURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.frontier.Offer(rawURL, 0)
	if !ok {
		return false
	}
	r.pending = append(r.pending, key)
	r.publishLocked()
	return true
}

// Start moves the job from initialized to running.
func (r *Run) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.transitionLocked(crawler.JobStatusRunning, "") {
		return false
	}
	now := r.clock.Now()
	r.job.Started = &now
	r.publishLocked()
	return true
}

// Next hands out the next pending task.
func (r *Run) Next() (crawler.URLTask, NextState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status.Terminal() {
		return crawler.URLTask{}, Stopped
	}
	if task, ok := r.frontier.Take(); ok {
		r.inFlight++
		return task, TaskReady
	}
	if r.inFlight > 0 {
		return crawler.URLTask{}, Idle
	}
	return crawler.URLTask{}, Exhausted
}

// Offer admits discovered links at depth. It returns how many were new.
func (r *Run) Offer(links []string, depth int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status.Terminal() {
		return 0
	}
	admitted := 0
	for _, link := range links {
		key, ok := r.frontier.Offer(link, depth)
		if !ok {
			continue
		}
		r.pending = append(r.pending, key)
		admitted++
	}
	if admitted > 0 {
		r.publishLocked()
	}
	return admitted
}

// Complete records a fetched URL together with the entities and relations
// extracted from it.
func (r *Run) Complete(url string, entities []crawler.Entity, relations []crawler.Relation) {
	r.mu.Lock()
	r.inFlight--
	r.attempts++
	r.removePendingLocked(url)
	r.job.CompletedURLs = append(r.job.CompletedURLs, url)
	r.job.Entities = append(r.job.Entities, entities...)
	r.addRelationsLocked(relations)
	r.publishLocked()
	r.mu.Unlock()
	r.signal()
}

// Fail records a URL that could not be fetched.
func (r *Run) Fail(url string, cause error) {
	r.mu.Lock()
	r.inFlight--
	r.attempts++
	r.failures++
	r.removePendingLocked(url)
	r.job.ErrorURLs = append(r.job.ErrorURLs, url)
	if r.job.URLErrors == nil {
		r.job.URLErrors = make(map[string]string)
	}
	if cause != nil {
		r.job.URLErrors[url] = cause.Error()
	}
	r.publishLocked()
	r.mu.Unlock()
	r.signal()
}

// AddRelations records job-level relations not tied to a single URL.
func (r *Run) AddRelations(relations []crawler.Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addRelationsLocked(relations)
	r.publishLocked()
}

// ErrorStats returns finished fetch attempts and failures so far.
func (r *Run) ErrorStats() (attempts, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, r.failures
}

// Finish moves the job to a terminal status. It returns false if the job was
// already terminal.
func (r *Run) Finish(status crawler.JobStatus, errText string) bool {
	r.mu.Lock()
	if !r.transitionLocked(status, errText) {
		r.mu.Unlock()
		return false
	}
	now := r.clock.Now()
	r.job.Finished = &now
	if status == crawler.JobStatusCompleted {
		r.job.Progress = 1.0
	}
	r.publishLocked()
	r.mu.Unlock()
	r.signal()
	return true
}

func (r *Run) transitionLocked(next crawler.JobStatus, errText string) bool {
	if !r.job.Status.CanTransition(next) {
		return false
	}
	r.job.Status = next
	if errText != "" {
		r.job.ErrorText = errText
	}
	return true
}

func (r *Run) addRelationsLocked(relations []crawler.Relation) {
	for _, rel := range relations {
		if _, ok := r.relSeen[rel]; ok {
			continue
		}
		r.relSeen[rel] = struct{}{}
		r.job.Relations = append(r.job.Relations, rel)
	}
}

func (r *Run) removePendingLocked(url string) {
	if i := slices.Index(r.pending, url); i >= 0 {
		r.pending = slices.Delete(slices.Clone(r.pending), i, i+1)
	}
}

// publishLocked stores an immutable copy of the job. Append-only slices are
// shared with their capacity clipped so later appends never reach readers.
func (r *Run) publishLocked() {
	r.updateProgressLocked()
	snap := r.job
	snap.CompletedURLs = slices.Clip(r.job.CompletedURLs)
	snap.ErrorURLs = slices.Clip(r.job.ErrorURLs)
	snap.Entities = slices.Clip(r.job.Entities)
	snap.Relations = slices.Clip(r.job.Relations)
	snap.PendingURLs = slices.Clip(r.pending)
	snap.URLErrors = maps.Clone(r.job.URLErrors)
	r.snapshot.Store(&snap)
}

func (r *Run) updateProgressLocked() {
	if r.job.Status == crawler.JobStatusCompleted {
		r.job.Progress = 1.0
		return
	}
	done := len(r.job.CompletedURLs)
	total := done + len(r.pending) + len(r.job.ErrorURLs)
	if total == 0 {
		return
	}
	if p := float64(done) / float64(total); p > r.job.Progress {
		r.job.Progress = p
	}
}

func (r *Run) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}
