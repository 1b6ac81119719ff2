package status

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

type fakeSource map[string]crawler.Job

func (f fakeSource) Get(_ context.Context, id string) (crawler.Job, error) {
	job, ok := f[id]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return job, nil
}

func TestProjectStatusRendersEmptyLists(t *testing.T) {
	t.Parallel()

	view := ProjectStatus(crawler.Job{ID: "extraction_1", Status: crawler.JobStatusInitialized})
	raw, err := json.Marshal(view)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"extraction_id": "extraction_1",
		"status": "initialized",
		"progress": 0,
		"completed_urls": [],
		"pending_urls": [],
		"error_urls": []
	}`, string(raw))
}

func TestProjectResultsHidesEntitiesUntilCompleted(t *testing.T) {
	t.Parallel()

	job := crawler.Job{
		ID:       "extraction_1",
		Status:   crawler.JobStatusRunning,
		Progress: 0.5,
		Entities: []crawler.Entity{{Name: "Docs Documentation", EntityType: crawler.EntityTypeDocumentation}},
	}
	view := ProjectResults(job)
	require.Empty(t, view.Entities)
	require.NotNil(t, view.Entities)
	require.Equal(t, NotReadyMessage, view.Message)

	job.Status = crawler.JobStatusCompleted
	job.Progress = 1
	view = ProjectResults(job)
	require.Len(t, view.Entities, 1)
	require.Empty(t, view.Message)
	require.NotNil(t, view.Relations)
}

func TestReporter(t *testing.T) {
	t.Parallel()

	r := NewReporter(fakeSource{
		"extraction_1": {
			ID:            "extraction_1",
			Status:        crawler.JobStatusCompleted,
			Progress:      1,
			CompletedURLs: []string{"https://docs.example.com"},
		},
	})

	st, err := r.Status(context.Background(), "extraction_1")
	require.NoError(t, err)
	require.Equal(t, []string{"https://docs.example.com"}, st.CompletedURLs)
	require.Equal(t, []string{}, st.PendingURLs)

	res, err := r.Results(context.Background(), "extraction_1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, res.Status)

	_, err = r.Status(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = r.Results(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
