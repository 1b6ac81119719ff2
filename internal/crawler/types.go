package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// Job status values. Transitions only move forward.
const (
	JobStatusInitialized JobStatus = "initialized"
	JobStatusRunning     JobStatus = "running"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a forward step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusInitialized:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Default context entity types used when the caller leaves them empty.
const (
	DefaultCompanyType = "Company"
	DefaultProductType = "AIProduct"
)

// ExtractionRequest is the caller-supplied description of a job.
type ExtractionRequest struct {
	URL         string            `json:"url"`
	Company     string            `json:"company"`
	CompanyType string            `json:"company_type"`
	Product     string            `json:"product,omitempty"`
	ProductType string            `json:"product_type"`
	Recursive   bool              `json:"recursive"`
	MaxDepth    int               `json:"max_depth"`
	Selectors   map[string]string `json:"selectors,omitempty"`
}

// Subject is the name entities on a page are attributed to: the product when
// present, otherwise the company.
func (r ExtractionRequest) Subject() string {
	if r.Product != "" {
		return r.Product
	}
	return r.Company
}

// Job is an immutable snapshot of an extraction job.
type Job struct {
	ID            string            `json:"extraction_id"`
	Request       ExtractionRequest `json:"request"`
	Status        JobStatus         `json:"status"`
	Progress      float64           `json:"progress"`
	CompletedURLs []string          `json:"completed_urls"`
	PendingURLs   []string          `json:"pending_urls"`
	ErrorURLs     []string          `json:"error_urls"`
	URLErrors     map[string]string `json:"url_errors,omitempty"`
	Entities      []Entity          `json:"extracted_entities"`
	Relations     []Relation        `json:"relations"`
	ErrorText     string            `json:"error,omitempty"`
	Submitted     time.Time         `json:"submitted_at"`
	Started       *time.Time        `json:"started_at,omitempty"`
	Finished      *time.Time        `json:"finished_at,omitempty"`
}

// URLTask is a unit of crawl work. The seed has depth 0.
type URLTask struct {
	URL   string
	Depth int
}

// Entity types produced by the built-in extraction strategies.
const (
	EntityTypeAPI           = "API"
	EntityTypeBestPractice  = "BestPractice"
	EntityTypeGuide         = "Guide"
	EntityTypeCodeExample   = "CodeExample"
	EntityTypeDocumentation = "Documentation"
)

// Entity is a typed, named record extracted from a page.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Key identifies entities that should be merged.
func (e Entity) Key() EntityKey {
	return EntityKey{Name: e.Name, EntityType: e.EntityType}
}

// EntityKey is the (name, type) identity of an entity.
type EntityKey struct {
	Name       string
	EntityType string
}

// Relation types emitted between the job subject and extracted entities.
const (
	RelationHasDocumentation = "has_documentation"
	RelationProvides         = "provides"
	RelationHasGuide         = "has_guide"
	RelationRecommends       = "recommends"
	RelationHasExample       = "has_example"
	RelationHas              = "has"
	RelationOffers           = "offers"
)

// Relation is a directed, typed edge between two entity names.
type Relation struct {
	From         string `json:"from"`
	RelationType string `json:"relationType"`
	To           string `json:"to"`
}

// Batch is the unit pushed to the graph sink.
type Batch struct {
	JobID     string     `json:"extraction_id"`
	URL       string     `json:"url,omitempty"`
	Company   string     `json:"company"`
	Product   string     `json:"product,omitempty"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Empty reports whether the batch carries nothing to push.
func (b Batch) Empty() bool {
	return len(b.Entities) == 0 && len(b.Relations) == 0
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	Depth       int
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response content type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}
