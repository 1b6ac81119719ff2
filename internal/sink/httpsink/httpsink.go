// Package httpsink pushes entities and relations to the knowledge graph
// service over its JSON HTTP API.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

// Config configures the HTTP sink.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Sink posts batches to {BaseURL}/entities and {BaseURL}/relations.
type Sink struct {
	baseURL string
	client  *http.Client
}

type entityContext struct {
	Company string `json:"company"`
	Product string `json:"product,omitempty"`
	Source  string `json:"source,omitempty"`
}

type entitiesRequest struct {
	Entities []crawler.Entity `json:"entities"`
	Context  entityContext    `json:"context"`
}

type relation struct {
	FromEntity   string `json:"from_entity"`
	RelationType string `json:"relationType"`
	ToEntity     string `json:"to_entity"`
}

type relationsRequest struct {
	Relations []relation `json:"relations"`
}

// New constructs a Sink. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client) (*Sink, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("httpsink: base url is required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Sink{baseURL: base, client: client}, nil
}

// Push implements crawler.Sink. Entities are written before relations so that
// relation endpoints exist.
func (s *Sink) Push(ctx context.Context, batch crawler.Batch) error {
	if len(batch.Entities) > 0 {
		body := entitiesRequest{
			Entities: batch.Entities,
			Context:  entityContext{Company: batch.Company, Product: batch.Product, Source: batch.URL},
		}
		if err := s.post(ctx, "/entities", body); err != nil {
			return err
		}
	}
	if len(batch.Relations) > 0 {
		body := relationsRequest{Relations: make([]relation, 0, len(batch.Relations))}
		for _, r := range batch.Relations {
			body.Relations = append(body.Relations, relation{
				FromEntity:   r.From,
				RelationType: r.RelationType,
				ToEntity:     r.To,
			})
		}
		if err := s.post(ctx, "/relations", body); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) post(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return crawler.Permanent(fmt.Errorf("encode %s: %w", path, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return crawler.Permanent(fmt.Errorf("build %s request: %w", path, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w: %w", path, crawler.ErrSinkUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("post %s: %w: status %d", path, crawler.ErrSinkUnavailable, resp.StatusCode)
	default:
		return crawler.Permanent(fmt.Errorf("post %s: status %d", path, resp.StatusCode))
	}
}
