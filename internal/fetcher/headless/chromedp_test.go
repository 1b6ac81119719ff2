package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.NotNil(t, fetcher.slots)
	require.Equal(t, defaultNavTimeout, fetcher.cfg.NavigationTimeout)
	require.Equal(t, "body", fetcher.cfg.WaitSelector)

	unbounded, err := NewChromedp(Config{WaitSelector: "main", NavigationTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(unbounded.Close)
	require.Nil(t, unbounded.slots)
	require.Equal(t, "main", unbounded.cfg.WaitSelector)
	require.Equal(t, time.Second, unbounded.cfg.NavigationTimeout)
}

func TestFetchWaitsForSlot(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.True(t, fetcher.slots.TryAcquire(1))
	defer fetcher.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = fetcher.Fetch(ctx, crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{
		"X-Multi":  {"a", "b"},
		"X-Single": {"one"},
		"X-Empty":  {},
	})
	require.Equal(t, []string{"a", "b"}, netHeaders["X-Multi"])
	require.Equal(t, "one", netHeaders["X-Single"])
	require.NotContains(t, netHeaders, "X-Empty")
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://docs.example.com/guide",
			Headers: network.Headers{"Content-Type": "text/html"},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://ads.example.com/frame"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://docs.example.com/app.js"},
	})

	status, headers, url := meta.resolve("https://docs.example.com/guide", "")
	require.Equal(t, 200, status)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
	require.Equal(t, "https://docs.example.com/guide", url)
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	status, headers, url := meta.resolve("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().resolve("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, err, crawler.ErrFetch)
}
