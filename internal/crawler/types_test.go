package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransition(t *testing.T) {
	t.Parallel()

	require.True(t, JobStatusInitialized.CanTransition(JobStatusRunning))
	require.True(t, JobStatusInitialized.CanTransition(JobStatusFailed))
	require.True(t, JobStatusRunning.CanTransition(JobStatusCompleted))
	require.True(t, JobStatusRunning.CanTransition(JobStatusCancelled))
	require.False(t, JobStatusRunning.CanTransition(JobStatusInitialized))
	require.False(t, JobStatusInitialized.CanTransition(JobStatusCompleted))
	require.False(t, JobStatusCompleted.CanTransition(JobStatusFailed))
	require.False(t, JobStatusFailed.CanTransition(JobStatusRunning))
}

func TestExtractionRequest_Subject(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Acme", ExtractionRequest{Company: "Acme"}.Subject())
	require.Equal(t, "Rocket", ExtractionRequest{Company: "Acme", Product: "Rocket"}.Subject())
}

func TestFetchError(t *testing.T) {
	t.Parallel()

	base := errors.New("dial tcp: refused")
	err := error(&FetchError{URL: "https://docs.example.com", Err: base})
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "https://docs.example.com")

	status := &FetchError{URL: "https://docs.example.com/x", StatusCode: 404}
	require.Contains(t, status.Error(), "404")
}

func TestInvalidRequestError(t *testing.T) {
	t.Parallel()

	err := InvalidRequestError("max_depth must be >= 0, got %d", -1)
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Contains(t, err.Error(), "got -1")
}
