// Package kafkasink publishes extraction batches to a Kafka topic so that a
// separate graph writer can load them.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes one message per batch keyed by extraction ID, so a job's
// batches stay ordered within a partition.
type Sink struct {
	writer messageWriter
	now    func() time.Time
}

// New creates a Kafka sink for the given brokers and topic.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafkasink: brokers and topic are required")
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}), nil
}

// NewWithWriter builds a sink using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Sink {
	return &Sink{writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

// Push implements crawler.Sink.
func (s *Sink) Push(ctx context.Context, batch crawler.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return crawler.Permanent(fmt.Errorf("encode batch: %w", err))
	}
	msg := kafka.Message{
		Key:   []byte(batch.JobID),
		Value: payload,
		Time:  s.now(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
