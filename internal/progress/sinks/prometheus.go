package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/doc-extractor/internal/progress"
)

// PrometheusSink turns progress events into job and fetch level collectors.
type PrometheusSink struct {
	jobsStarted  prometheus.Counter
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec
	fetchLatency *prometheus.HistogramVec
	fetchErrors  *prometheus.CounterVec
	pageEntities prometheus.Histogram

	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extractor_jobs_started_total",
			Help: "Extraction jobs that started running.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extractor_jobs_running",
			Help: "Extraction jobs currently running.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_job_runtime_seconds",
			Help:    "Wall time per finished job by terminal stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_fetch_duration_seconds",
			Help:    "Page fetch latency by site and status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site", "status_class"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_fetch_errors_total",
			Help: "Pages that could not be fetched, by site.",
		}, []string{"site"}),
		pageEntities: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extractor_page_entities",
			Help:    "Entities extracted per fetched page.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsRunning, s.jobRuntime, s.fetchLatency, s.fetchErrors, s.pageEntities,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. The hub calls it from a single goroutine.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageJobStart:
			if _, ok := s.running[evt.JobID]; !ok {
				s.running[evt.JobID] = struct{}{}
				s.jobsStarted.Inc()
				s.jobsRunning.Inc()
			}
		case evt.Terminal():
			if _, ok := s.running[evt.JobID]; ok {
				delete(s.running, evt.JobID)
				s.jobsRunning.Dec()
			}
			if evt.Dur > 0 {
				s.jobRuntime.WithLabelValues(string(evt.Stage)).Observe(evt.Dur.Seconds())
			}
		case evt.Stage == progress.StageFetchDone:
			s.fetchLatency.WithLabelValues(evt.Site, string(evt.StatusClass)).Observe(evt.Dur.Seconds())
			s.pageEntities.Observe(float64(evt.Entities))
		case evt.Stage == progress.StageFetchError:
			s.fetchErrors.WithLabelValues(evt.Site).Inc()
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
