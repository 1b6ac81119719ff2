package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for the browser when headless.enabled is false.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, Err: ErrDisabled}
}
