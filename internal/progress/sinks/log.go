package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/doc-extractor/internal/progress"
)

// LogSink writes progress events as structured logs. Job milestones log at
// info, page-level events at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.DebugLevel
		if evt.Stage == progress.StageJobStart || evt.Terminal() {
			level = zapcore.InfoLevel
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(
				zap.String("extraction_id", evt.JobID),
				zap.String("stage", string(evt.Stage)),
				zap.String("url", evt.URL),
				zap.Int("depth", evt.Depth),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("entities", evt.Entities),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
