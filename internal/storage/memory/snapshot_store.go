package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

// SnapshotStore keeps terminal job snapshots in memory for development/testing.
type SnapshotStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewSnapshotStore constructs a SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{jobs: make(map[string]crawler.Job)}
}

// Save stores or replaces the snapshot for job.ID.
func (s *SnapshotStore) Save(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// Load returns the snapshot for id.
func (s *SnapshotStore) Load(_ context.Context, id string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return job, nil
}

// Delete removes the snapshot for id.
func (s *SnapshotStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return crawler.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}
