package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchError   Stage = "FETCH_ERROR"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of an extraction job.
type Event struct {
	// JobID is the extraction identifier.
	JobID string
	TS    time.Time
	Stage Stage
	// Site is the host label for fetch events.
	Site string
	URL  string
	// Depth is the crawl depth of URL.
	Depth       int
	Bytes       int64
	StatusClass StatusClass
	// Entities counts entities extracted from URL, or from the whole job on
	// JOB_DONE.
	Entities int
	// Dur is the fetch latency or, for job events, the job's wall time.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCancelled:
	case StageFetchDone, StageFetchError:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
		if e.Stage == StageFetchDone && e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageJobDone, StageJobError, StageJobCancelled:
		return true
	default:
		return false
	}
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
