package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

func htmlResponse(status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	longText := "<p>" + strings.Repeat("Authentication uses bearer tokens. ", 40) + "</p>"
	tests := []struct {
		name string
		resp crawler.FetchResponse
		want bool
	}{
		{name: "empty body", resp: htmlResponse(200, "  "), want: true},
		{name: "next mount", resp: htmlResponse(200, `<body><div id="__next"></div><script src="/a.js"></script></body>`), want: true},
		{name: "noscript warning", resp: htmlResponse(200, `<body><noscript>Please enable JavaScript</noscript><div>Loading</div></body>`), want: true},
		{name: "scripts only", resp: htmlResponse(200, `<html><body><script>render()</script></body></html>`), want: true},
		{name: "rendered docs", resp: htmlResponse(200, `<body><div id="root">`+longText+`</div></body>`), want: false},
		{name: "short static page", resp: htmlResponse(200, `<body><h1>Changelog</h1><p>Nothing yet.</p></body>`), want: false},
		{name: "not found", resp: htmlResponse(404, ""), want: false},
		{
			name: "json body",
			resp: crawler.FetchResponse{StatusCode: 200, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"a":1}`)},
			want: false,
		},
	}
	h := NewHeuristic(0)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.ShouldPromote(tc.resp))
		})
	}
}

func TestNewHeuristicDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultTextThreshold, NewHeuristic(-1).TextThreshold)
	require.Equal(t, 10, NewHeuristic(10).TextThreshold)
}
