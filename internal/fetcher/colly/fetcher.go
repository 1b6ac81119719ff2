// Package collyfetcher implements crawler.Fetcher using Colly for plain HTTP
// page loads.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config holds tunables for the Colly fetcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher is a Colly-backed crawler.Fetcher.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New constructs a Fetcher with sane defaults.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: base}
}

type fetchOutcome struct {
	resp crawler.FetchResponse
	err  error
}

// Fetch downloads req.URL and returns the body. Non-2xx responses and
// transport failures come back as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	start := time.Now()
	out := &fetchOutcome{}
	collector := f.buildCollector(req)
	f.configureCollectorHooks(collector, req, start, out)
	return runCollector(ctx, collector, req.URL, out)
}

func (f *Fetcher) buildCollector(req crawler.FetchRequest) *colly.Collector {
	collector := f.baseCollector.Clone()
	// Clones share the visited store; the frontier already dedups per job.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	if ua := req.Headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}
	return collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	req crawler.FetchRequest,
	start time.Time,
	out *fetchOutcome,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for k, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(k, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		out.resp = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		fe := &crawler.FetchError{URL: req.URL, Err: err}
		if r != nil {
			fe.StatusCode = r.StatusCode
			if r.StatusCode >= http.StatusBadRequest {
				fe.Err = nil
			}
		}
		out.err = fe
	})
}

func runCollector(
	ctx context.Context,
	collector *colly.Collector,
	target string,
	out *fetchOutcome,
) (crawler.FetchResponse, error) {
	done := make(chan fetchOutcome, 1)
	go func() {
		visitErr := collector.Visit(target)
		result := *out
		if visitErr != nil && result.err == nil {
			result.err = &crawler.FetchError{URL: target, Err: visitErr}
		}
		done <- result
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case result := <-done:
		if result.err != nil {
			return crawler.FetchResponse{}, result.err
		}
		if result.resp.StatusCode == 0 {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: target, Err: errors.New("no response")}
		}
		if result.resp.StatusCode < 200 || result.resp.StatusCode >= 300 {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: target, StatusCode: result.resp.StatusCode}
		}
		return result.resp, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}
