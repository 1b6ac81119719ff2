package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/parser"
)

const pageURL = "https://docs.example.com/docs/widgets"

var acme = crawler.ExtractionRequest{
	URL:     "https://docs.example.com",
	Company: "Acme",
	Product: "Widgets",
}

func parse(t *testing.T, body string) parser.Document {
	t.Helper()
	doc := parser.Parse(pageURL, []byte(body), "text/html; charset=utf-8")
	require.False(t, doc.Empty())
	return doc
}

func find(t *testing.T, res Result, name, entityType string) crawler.Entity {
	t.Helper()
	for _, e := range res.Entities {
		if e.Name == name && e.EntityType == entityType {
			return e
		}
	}
	t.Fatalf("entity %q (%s) not found in %+v", name, entityType, res.Entities)
	return crawler.Entity{}
}

func countType(res Result, entityType string) int {
	n := 0
	for _, e := range res.Entities {
		if e.EntityType == entityType {
			n++
		}
	}
	return n
}

func TestExtract_AlwaysEmitsDocumentation(t *testing.T) {
	t.Parallel()

	res := Extract(parse(t, `<html><head><title>Widgets</title></head><body><p>hello</p></body></html>`), acme)
	doc := find(t, res, "Widgets Documentation", crawler.EntityTypeDocumentation)
	require.Contains(t, doc.Observations, "URL: "+pageURL)
	require.Contains(t, res.Relations, crawler.Relation{From: "Acme", RelationType: crawler.RelationHasDocumentation, To: "Widgets Documentation"})
	require.Contains(t, res.Relations, crawler.Relation{From: "Widgets", RelationType: crawler.RelationHasDocumentation, To: "Widgets Documentation"})
}

func TestExtract_EmptyDocumentStillDocumented(t *testing.T) {
	t.Parallel()

	res := Extract(parser.Parse(pageURL, nil, ""), acme)
	require.Len(t, res.Entities, 1)
	require.Equal(t, crawler.EntityTypeDocumentation, res.Entities[0].EntityType)
}

func TestExtract_MalformedPagesStillDocumented(t *testing.T) {
	t.Parallel()

	bodies := map[string]struct {
		body        []byte
		contentType string
	}{
		"unclosed tags":          {[]byte(`<html><body><h1>Setup<p>Install it<div><pre><code>go get x`), "text/html"},
		"garbage bytes":          {[]byte{0x00, 0xff, 0xfe, 0x1b, 0x89, 'P', 'N', 'G', 0x00, '<', 0x7f}, ""},
		"invalid utf-8":          {[]byte("<html><title>Bad \xff\xfe</title><p>caf\xc3</p></html>"), "text/html; charset=utf-8"},
		"wrong declared charset": {[]byte(`<html><head><meta charset="shift_jis"><title>Guide</title></head></html>`), "text/html; charset=utf-16"},
	}
	for name, tc := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var res Result
			require.NotPanics(t, func() {
				res = Extract(parser.Parse(pageURL, tc.body, tc.contentType), acme)
			})
			require.Equal(t, 1, countType(res, crawler.EntityTypeDocumentation))
		})
	}
}

func TestExtract_APIMergedAcrossStrategies(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>Widgets API</title></head><body>
<h2>Endpoints</h2>
<pre>GET /v1/widgets
POST /v1/widgets</pre>
<table>
<tr><td><a href="/ref/list">List</a></td></tr>
<tr><td><a href="/ref/get">Get</a></td></tr>
<tr><td><a href="/ref/delete">Delete</a></td></tr>
</table>
</body></html>`
	res := Extract(parse(t, body), acme)

	require.Equal(t, 1, countType(res, crawler.EntityTypeAPI), "same (name, type) must merge")
	api := find(t, res, "Widgets API", crawler.EntityTypeAPI)
	require.Contains(t, api.Observations, "Endpoints: GET /v1/widgets, POST /v1/widgets")
	require.Contains(t, api.Observations, "Total endpoints: 2")
	require.Contains(t, api.Observations, "Members: List, Get, Delete")
	require.Equal(t, 1, strings.Count(strings.Join(api.Observations, "\n"), "Source: "), "identical observations are deduplicated")
	require.Zero(t, countType(res, crawler.EntityTypeCodeExample), "endpoint blocks are not reclassified as examples")
	require.Contains(t, res.Relations, crawler.Relation{From: "Widgets", RelationType: crawler.RelationProvides, To: "Widgets API"})
}

func TestExtract_PathHeadings(t *testing.T) {
	t.Parallel()

	body := `<html><body><h3>/widgets/{id}</h3><p>Fetch one.</p></body></html>`
	res := Extract(parse(t, body), acme)
	api := find(t, res, "Widgets API", crawler.EntityTypeAPI)
	require.Contains(t, api.Observations, "Endpoints: /widgets/{id}")
	require.Zero(t, countType(res, crawler.EntityTypeGuide), "claimed headings do not form a guide")
}

func TestExtract_SparseTableIsNotReference(t *testing.T) {
	t.Parallel()

	body := `<html><body><table>
<tr><td>a</td></tr><tr><td>b</td></tr><tr><td><a href="/c">c</a></td></tr>
</table></body></html>`
	res := Extract(parse(t, body), acme)
	require.Zero(t, countType(res, crawler.EntityTypeAPI))
}

func TestExtract_BestPractices(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>Ops</title></head><body>
<h1>Operating Widgets</h1>
<h2>Best Practices</h2>
<p>Rotate keys monthly.</p>
<h2>Recommendations for scaling</h2>
<p>Shard by tenant.</p>
</body></html>`
	res := Extract(parse(t, body), acme)

	bp := find(t, res, "Widgets Best Practice: Best Practices", crawler.EntityTypeBestPractice)
	require.Contains(t, bp.Observations, "Content: Rotate keys monthly.")
	find(t, res, "Widgets Best Practice: Recommendations for scaling", crawler.EntityTypeBestPractice)
	require.Contains(t, res.Relations, crawler.Relation{From: "Widgets", RelationType: crawler.RelationRecommends, To: "Widgets Best Practice: Best Practices"})

	guide := find(t, res, "Ops", crawler.EntityTypeGuide)
	require.Contains(t, guide.Observations, "Topics: Operating Widgets")
}

func TestExtract_CodeExamples(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>Quickstart</title></head><body>
<h1>Getting Started</h1>
<h2>Install</h2>
<pre><code class="language-bash">go get example.com/widgets</code></pre>
</body></html>`
	res := Extract(parse(t, body), acme)

	ex := find(t, res, "Install Code Example", crawler.EntityTypeCodeExample)
	require.Contains(t, ex.Observations, "Language: bash")
	require.Contains(t, res.Relations, crawler.Relation{From: "Widgets", RelationType: crawler.RelationHasExample, To: "Install Code Example"})

	guide := find(t, res, "Quickstart", crawler.EntityTypeGuide)
	require.Contains(t, guide.Observations, "Kind: Getting Started Guide")
	require.Equal(t, 1, countType(res, crawler.EntityTypeGuide))
}

func TestExtract_SelectorsRunFirstAndClaim(t *testing.T) {
	t.Parallel()

	req := acme
	req.Selectors = map[string]string{"Snippet": "div.snippet"}
	body := `<html><body>
<div class="snippet"><pre>GET /v1/hidden</pre></div>
<div class="snippet">  </div>
<div class="snippet">Second</div>
</body></html>`
	res := Extract(parse(t, body), req)

	first := find(t, res, "Widgets Snippet 1", "Snippet")
	require.Contains(t, first.Observations, "Source: "+pageURL)
	require.Contains(t, first.Observations, "Content: GET /v1/hidden")
	find(t, res, "Widgets Snippet 2", "Snippet")
	require.Zero(t, countType(res, crawler.EntityTypeAPI), "selector-claimed nodes are skipped by heuristics")
	require.Zero(t, countType(res, crawler.EntityTypeCodeExample))
	require.Contains(t, res.Relations, crawler.Relation{From: "Widgets", RelationType: crawler.RelationHas, To: "Widgets Snippet 1"})
}

func TestExtract_SelectorContentTruncated(t *testing.T) {
	t.Parallel()

	req := acme
	req.Selectors = map[string]string{"Note": ".note"}
	long := strings.Repeat("x", 250)
	res := Extract(parse(t, `<html><body><p class="note">`+long+`</p></body></html>`), req)
	note := find(t, res, "Widgets Note 1", "Note")
	require.Contains(t, note.Observations, "Content: "+strings.Repeat("x", 200)+"...")
}

func TestValidateSelectors(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSelectors(nil))
	require.NoError(t, ValidateSelectors(map[string]string{"Endpoint": "div.endpoint > code"}))
	require.Error(t, ValidateSelectors(map[string]string{"Broken": "div[["}))
	require.Error(t, ValidateSelectors(map[string]string{" ": "div"}))
}

func TestContextEntities(t *testing.T) {
	t.Parallel()

	res := ContextEntities(acme)
	require.Len(t, res.Entities, 2)
	require.Equal(t, crawler.DefaultCompanyType, res.Entities[0].EntityType)
	require.Equal(t, crawler.DefaultProductType, res.Entities[1].EntityType)
	require.Equal(t, []crawler.Relation{{From: "Acme", RelationType: crawler.RelationOffers, To: "Widgets"}}, res.Relations)

	solo := ContextEntities(crawler.ExtractionRequest{Company: "Acme", CompanyType: "Vendor"})
	require.Len(t, solo.Entities, 1)
	require.Equal(t, "Vendor", solo.Entities[0].EntityType)
	require.Empty(t, solo.Relations)
}

func TestStrategiesOrder(t *testing.T) {
	t.Parallel()

	names := Strategies()
	require.Equal(t, "selectors", names[0])
	require.Equal(t, "documentation", names[len(names)-1])
}
