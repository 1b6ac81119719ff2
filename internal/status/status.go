// Package status projects job snapshots into the views served by the HTTP
// API. Projections only read published snapshots and never block writers.
package status

import (
	"context"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

// NotReadyMessage accompanies results requested before a job completes.
const NotReadyMessage = "Extraction is still in progress"

// Source returns the latest snapshot of a job.
type Source interface {
	Get(ctx context.Context, id string) (crawler.Job, error)
}

// StatusView is the body of GET /status/{id}.
type StatusView struct {
	ID            string            `json:"extraction_id"`
	Status        crawler.JobStatus `json:"status"`
	Progress      float64           `json:"progress"`
	CompletedURLs []string          `json:"completed_urls"`
	PendingURLs   []string          `json:"pending_urls"`
	ErrorURLs     []string          `json:"error_urls"`
	URLErrors     map[string]string `json:"url_errors,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// ResultsView is the body of GET /results/{id}. Entities stay empty until
// the job has completed.
type ResultsView struct {
	ID        string             `json:"extraction_id"`
	Status    crawler.JobStatus  `json:"status"`
	Progress  float64            `json:"progress"`
	Entities  []crawler.Entity   `json:"extracted_entities"`
	Relations []crawler.Relation `json:"relations"`
	Message   string             `json:"message,omitempty"`
}

// Reporter serves read-only job views.
type Reporter struct {
	source Source
}

// NewReporter wraps source.
func NewReporter(source Source) *Reporter {
	return &Reporter{source: source}
}

// Status returns the status view for id, or crawler.ErrNotFound.
func (r *Reporter) Status(ctx context.Context, id string) (StatusView, error) {
	job, err := r.source.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return ProjectStatus(job), nil
}

// Results returns the results view for id, or crawler.ErrNotFound.
func (r *Reporter) Results(ctx context.Context, id string) (ResultsView, error) {
	job, err := r.source.Get(ctx, id)
	if err != nil {
		return ResultsView{}, err
	}
	return ProjectResults(job), nil
}

// ProjectStatus maps a snapshot to its status view.
func ProjectStatus(job crawler.Job) StatusView {
	return StatusView{
		ID:            job.ID,
		Status:        job.Status,
		Progress:      job.Progress,
		CompletedURLs: nonNil(job.CompletedURLs),
		PendingURLs:   nonNil(job.PendingURLs),
		ErrorURLs:     nonNil(job.ErrorURLs),
		URLErrors:     job.URLErrors,
		Error:         job.ErrorText,
	}
}

// ProjectResults maps a snapshot to its results view.
func ProjectResults(job crawler.Job) ResultsView {
	view := ResultsView{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Entities:  []crawler.Entity{},
		Relations: []crawler.Relation{},
	}
	if job.Status != crawler.JobStatusCompleted {
		view.Message = NotReadyMessage
		return view
	}
	view.Entities = nonNil(job.Entities)
	view.Relations = nonNil(job.Relations)
	return view
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
