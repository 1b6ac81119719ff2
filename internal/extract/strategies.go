package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/parser"
)

var (
	endpointPattern = regexp.MustCompile(`\b(GET|POST|PUT|PATCH|DELETE)\s+(/[\w\-./{}:]*)`)
	pathPattern     = regexp.MustCompile(`^/\w+(/[\w\-]+|/\{[^}]+\})*$`)
)

const (
	maxListedEndpoints = 5
	maxListedTopics    = 5
	minReferenceRows   = 3
)

func extractSelectors(s *state) {
	for _, entityType := range sortedKeys(s.req.Selectors) {
		sel, err := cascadia.Compile(s.req.Selectors[entityType])
		if err != nil {
			continue
		}
		n := 0
		s.doc.DOM.FindMatcher(sel).Each(func(_ int, match *goquery.Selection) {
			if s.isClaimed(match) {
				return
			}
			text := parser.Text(match)
			if text == "" {
				return
			}
			n++
			name := fmt.Sprintf("%s %s %d", s.subject, entityType, n)
			s.add(name, entityType, s.source(), "Content: "+truncate(text, contentLimit))
			s.relate(s.subject, crawler.RelationHas, name)
			s.claim(match)
		})
	}
}

func extractEndpoints(s *state) {
	var endpoints []string
	record := func(sel *goquery.Selection, found []string) {
		if len(found) == 0 {
			return
		}
		endpoints = append(endpoints, found...)
		s.claim(sel)
	}

	for _, block := range s.doc.CodeBlocks {
		if s.isClaimed(block.Node) {
			continue
		}
		record(block.Node, matchEndpoints(block.Text))
	}
	for _, code := range s.doc.InlineCode {
		if s.isClaimed(code.Node) {
			continue
		}
		record(code.Node, matchEndpoints(code.Text))
	}
	s.doc.DOM.Find("h2, h3, dt").Each(func(_ int, sel *goquery.Selection) {
		if s.isClaimed(sel) {
			return
		}
		text := parser.Text(sel)
		if pathPattern.MatchString(text) {
			record(sel, []string{text})
		}
	})

	if len(endpoints) == 0 {
		return
	}
	endpoints = dedupe(endpoints)
	name := s.subject + " API"
	listed := endpoints
	if len(listed) > maxListedEndpoints {
		listed = listed[:maxListedEndpoints]
	}
	s.add(name, crawler.EntityTypeAPI,
		s.source(),
		"Endpoints: "+strings.Join(listed, ", "),
		"Total endpoints: "+strconv.Itoa(len(endpoints)),
	)
	s.relate(s.subject, crawler.RelationProvides, name)
}

func matchEndpoints(text string) []string {
	var out []string
	for _, m := range endpointPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1]+" "+m[2])
	}
	return out
}

// extractReferenceTables treats link-dense tables as API reference indexes.
func extractReferenceTables(s *state) {
	for _, t := range s.doc.Tables {
		if t.Rows < minReferenceRows || t.LinkedRows*2 < t.Rows {
			continue
		}
		if s.isClaimed(t.Node) || s.containsClaimed(t.Node) {
			continue
		}
		name := s.subject + " API"
		label := t.Heading
		if label == "" {
			label = s.title()
		}
		members := t.LinkTexts
		if len(members) > maxListedEndpoints {
			members = members[:maxListedEndpoints]
		}
		s.add(name, crawler.EntityTypeAPI,
			s.source(),
			fmt.Sprintf("Reference: %s (%d entries)", label, t.Rows),
			"Members: "+strings.Join(members, ", "),
		)
		s.relate(s.subject, crawler.RelationProvides, name)
		s.claim(t.Node)
	}
}

func extractBestPractices(s *state) {
	for _, h := range s.doc.Headings {
		if h.Level > 4 || !isBestPracticeHeading(h.Text) || s.isClaimed(h.Node) {
			continue
		}
		name := fmt.Sprintf("%s Best Practice: %s", s.subject, h.Text)
		obs := []string{"Title: " + h.Text, s.source()}
		if content := parser.SectionText(h); content != "" {
			obs = append(obs, "Content: "+truncate(content, contentLimit))
		}
		s.add(name, crawler.EntityTypeBestPractice, obs...)
		s.relate(s.subject, crawler.RelationRecommends, name)
		s.claim(h.Node)
	}
}

func isBestPracticeHeading(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "best practice") || strings.Contains(lower, "recommendation")
}

func extractCodeExamples(s *state) {
	for _, block := range s.doc.CodeBlocks {
		if s.isClaimed(block.Node) {
			continue
		}
		heading := block.Heading
		if heading == "" {
			heading = s.title()
		}
		name := heading + " Code Example"
		obs := []string{s.source()}
		if block.Language != "" {
			obs = append(obs, "Language: "+block.Language)
		}
		obs = append(obs, "Code: "+truncate(block.Text, contentLimit))
		s.add(name, crawler.EntityTypeCodeExample, obs...)
		s.relate(s.subject, crawler.RelationHasExample, name)
		s.claim(block.Node)
	}
}

// extractGuide emits at most one guide per page from the unclaimed h1–h3
// headings.
func extractGuide(s *state) {
	var topics []string
	for _, h := range s.doc.Headings {
		if h.Level > 3 || s.isClaimed(h.Node) {
			continue
		}
		topics = append(topics, h.Text)
	}
	if len(topics) == 0 {
		return
	}
	name := s.title()
	listed := topics
	if len(listed) > maxListedTopics {
		listed = listed[:maxListedTopics]
	}
	s.add(name, crawler.EntityTypeGuide,
		s.source(),
		"Kind: "+guideKind(topics),
		"Topics: "+strings.Join(listed, ", "),
		"Related to: "+s.subject,
	)
	s.relate(s.subject, crawler.RelationHasGuide, name)
}

func guideKind(headings []string) string {
	has := func(needle string) bool {
		for _, h := range headings {
			if strings.Contains(strings.ToLower(h), needle) {
				return true
			}
		}
		return false
	}
	switch {
	case has("getting started"), has("quickstart"), has("quick start"):
		return "Getting Started Guide"
	case has("tutorial"):
		return "Tutorial"
	case has("how to"), has("how-to"):
		return "How-To Guide"
	default:
		return "General Guide"
	}
}

func extractDocumentation(s *state) {
	name := s.title() + " Documentation"
	obs := []string{"URL: " + s.doc.URL}
	if s.doc.Title != "" {
		obs = append(obs, "Title: "+s.doc.Title)
	}
	if s.doc.Excerpt != "" {
		obs = append(obs, "Summary: "+truncate(s.doc.Excerpt, contentLimit))
	}
	s.add(name, crawler.EntityTypeDocumentation, obs...)
	s.relate(s.req.Company, crawler.RelationHasDocumentation, name)
	if s.req.Product != "" {
		s.relate(s.req.Product, crawler.RelationHasDocumentation, name)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
