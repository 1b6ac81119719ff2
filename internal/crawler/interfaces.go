package crawler

import (
	"context"
	"io"
	"time"
)

// BlobStore writes archived pages and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher announces finished jobs on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the rendered body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Sink receives extracted entities and relations for the knowledge graph.
type Sink interface {
	Push(ctx context.Context, batch Batch) error
}

// Queue provides enqueue/dequeue semantics for submitted jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem names a submitted job waiting for a worker. Submitted is a Unix
// timestamp.
type QueueItem struct {
	JobID     string
	Submitted int64
}
