// Package extract derives typed entities and relations from a parsed page.
//
// Extraction is a pure function over a parser.Document. A fixed table of
// strategies runs in order; configured CSS selectors run first and claim the
// nodes they match, so later heuristics never classify the same element twice.
// Entities sharing (name, entityType) within one page are merged.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/parser"
)

const contentLimit = 200

// Result is the output of extracting one page.
type Result struct {
	Entities  []crawler.Entity
	Relations []crawler.Relation
}

// Batch converts the result into a sink batch for the given job.
func (r Result) Batch(jobID, pageURL string, req crawler.ExtractionRequest) crawler.Batch {
	return crawler.Batch{
		JobID:     jobID,
		URL:       pageURL,
		Company:   req.Company,
		Product:   req.Product,
		Entities:  r.Entities,
		Relations: r.Relations,
	}
}

type strategy struct {
	name string
	run  func(*state)
}

var strategies = []strategy{
	{name: "selectors", run: extractSelectors},
	{name: "api_endpoints", run: extractEndpoints},
	{name: "reference_tables", run: extractReferenceTables},
	{name: "best_practices", run: extractBestPractices},
	{name: "code_examples", run: extractCodeExamples},
	{name: "guide", run: extractGuide},
	{name: "documentation", run: extractDocumentation},
}

// Strategies lists the strategy names in the order they run.
func Strategies() []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.name
	}
	return names
}

// Extract runs every strategy against doc and returns merged entities plus
// the relations tying them to the job's company or product.
func Extract(doc parser.Document, req crawler.ExtractionRequest) Result {
	st := newState(doc, req)
	if !doc.Empty() {
		for _, s := range strategies {
			s.run(st)
		}
	} else {
		extractDocumentation(st)
	}
	return st.result()
}

// ValidateSelectors compiles every selector and reports the first failure.
func ValidateSelectors(selectors map[string]string) error {
	for _, entityType := range sortedKeys(selectors) {
		if strings.TrimSpace(entityType) == "" {
			return fmt.Errorf("selector entity type must not be empty")
		}
		if _, err := cascadia.Compile(selectors[entityType]); err != nil {
			return fmt.Errorf("selector for %q: %w", entityType, err)
		}
	}
	return nil
}

// ContextEntities returns the company and product entities for a job and the
// relation between them. They are pushed once per job.
func ContextEntities(req crawler.ExtractionRequest) Result {
	companyType := req.CompanyType
	if companyType == "" {
		companyType = crawler.DefaultCompanyType
	}
	var res Result
	res.Entities = append(res.Entities, crawler.Entity{
		Name:         req.Company,
		EntityType:   companyType,
		Observations: []string{"Documentation: " + req.URL},
	})
	if req.Product == "" {
		return res
	}
	productType := req.ProductType
	if productType == "" {
		productType = crawler.DefaultProductType
	}
	res.Entities = append(res.Entities, crawler.Entity{
		Name:         req.Product,
		EntityType:   productType,
		Observations: []string{"Provided by: " + req.Company, "Documentation: " + req.URL},
	})
	res.Relations = append(res.Relations, crawler.Relation{
		From:         req.Company,
		RelationType: crawler.RelationOffers,
		To:           req.Product,
	})
	return res
}

type state struct {
	doc      parser.Document
	req      crawler.ExtractionRequest
	subject  string
	claimed  map[*html.Node]struct{}
	order    []crawler.EntityKey
	entities map[crawler.EntityKey]*crawler.Entity
	rels     []crawler.Relation
	relSeen  map[crawler.Relation]struct{}
}

func newState(doc parser.Document, req crawler.ExtractionRequest) *state {
	return &state{
		doc:      doc,
		req:      req,
		subject:  req.Subject(),
		claimed:  make(map[*html.Node]struct{}),
		entities: make(map[crawler.EntityKey]*crawler.Entity),
		relSeen:  make(map[crawler.Relation]struct{}),
	}
}

func (s *state) claim(sel *goquery.Selection) {
	for _, n := range sel.Nodes {
		s.claimed[n] = struct{}{}
	}
}

// isClaimed reports whether sel or any of its ancestors was already classified.
func (s *state) isClaimed(sel *goquery.Selection) bool {
	for _, n := range sel.Nodes {
		for cur := n; cur != nil; cur = cur.Parent {
			if _, ok := s.claimed[cur]; ok {
				return true
			}
		}
	}
	return false
}

// containsClaimed reports whether any descendant of sel was already classified.
func (s *state) containsClaimed(sel *goquery.Selection) bool {
	found := false
	sel.Find("*").EachWithBreak(func(_ int, child *goquery.Selection) bool {
		if _, ok := s.claimed[child.Nodes[0]]; ok {
			found = true
			return false
		}
		return true
	})
	return found
}

func (s *state) add(name, entityType string, observations ...string) {
	key := crawler.EntityKey{Name: name, EntityType: entityType}
	existing, ok := s.entities[key]
	if !ok {
		existing = &crawler.Entity{Name: name, EntityType: entityType}
		s.entities[key] = existing
		s.order = append(s.order, key)
	}
	for _, obs := range observations {
		if obs == "" || contains(existing.Observations, obs) {
			continue
		}
		existing.Observations = append(existing.Observations, obs)
	}
}

func (s *state) relate(from, relationType, to string) {
	if from == "" || to == "" {
		return
	}
	rel := crawler.Relation{From: from, RelationType: relationType, To: to}
	if _, ok := s.relSeen[rel]; ok {
		return
	}
	s.relSeen[rel] = struct{}{}
	s.rels = append(s.rels, rel)
}

func (s *state) result() Result {
	res := Result{Entities: make([]crawler.Entity, 0, len(s.order))}
	for _, key := range s.order {
		res.Entities = append(res.Entities, *s.entities[key])
	}
	res.Relations = s.rels
	return res
}

func (s *state) source() string {
	return "Source: " + s.doc.URL
}

func (s *state) title() string {
	if s.doc.Title != "" {
		return s.doc.Title
	}
	return s.subject
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
