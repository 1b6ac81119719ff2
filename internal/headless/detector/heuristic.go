// Package detector decides when a plain HTTP fetch must be redone in a
// headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

const defaultTextThreshold = 512

// mountSelectors match the empty roots client-side frameworks render into.
var mountSelectors = []string{
	"#__next",
	"#__nuxt",
	"#___gatsby",
	"#root",
	"#app",
	"[data-reactroot]",
}

// Heuristic promotes pages whose static HTML carries almost no readable text
// but does carry a client-side application shell.
type Heuristic struct {
	// TextThreshold is the visible text length below which a page counts as
	// thin.
	TextThreshold int
}

// NewHeuristic creates a detector. threshold <= 0 selects the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultTextThreshold
	}
	return &Heuristic{TextThreshold: threshold}
}

// ShouldPromote reports whether probe looks like an unrendered SPA.
func (h *Heuristic) ShouldPromote(probe crawler.FetchResponse) bool {
	if probe.StatusCode < 200 || probe.StatusCode >= 300 {
		return false
	}
	if len(bytes.TrimSpace(probe.Body)) == 0 {
		return true
	}
	ct := strings.ToLower(probe.ContentType())
	if ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(probe.Body))
	if err != nil {
		return false
	}

	scripts := doc.Find("script").Length()
	asksForJS := strings.Contains(strings.ToLower(doc.Find("noscript").Text()), "javascript")
	doc.Find("script, style, noscript, template").Remove()
	text := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	if text >= h.TextThreshold {
		return false
	}
	if asksForJS {
		return true
	}
	for _, sel := range mountSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return scripts > 0 && text == 0
}
