package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObservers(t *testing.T) {
	Init()
	Init()

	ObservePage("https://docs.observe.test/a", "ok", 128)
	if val := testutil.ToFloat64(pagesTotal.WithLabelValues("docs.observe.test", "ok")); val != 1 {
		t.Errorf("expected one page, got %f", val)
	}
	if val := testutil.ToFloat64(bytesTotal.WithLabelValues("docs.observe.test")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	ObserveEntity("ObserverTest")
	ObserveEntity("ObserverTest")
	if val := testutil.ToFloat64(entitiesTotal.WithLabelValues("ObserverTest")); val != 2 {
		t.Errorf("expected two entities, got %f", val)
	}

	ObserveSinkPush("dropped")
	if val := testutil.ToFloat64(sinkPushesTotal.WithLabelValues("dropped")); val < 1 {
		t.Errorf("expected dropped push to be counted, got %f", val)
	}

	IncActiveFetches()
	DecActiveFetches()
	if val := testutil.ToFloat64(activeFetches); val != 0 {
		t.Errorf("expected gauge back at zero, got %f", val)
	}

	ObserveRateLimitDelay("docs.observe.test", 200*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("expected rate limit delay to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://docs.example.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
