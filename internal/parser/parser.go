// Package parser turns rendered HTML into a structured Document: title,
// headings, paragraphs, code blocks, tables, and absolute outbound links.
// Parsing never fails; malformed input yields a sparse or empty Document.
package parser

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

// Heading is an h1–h6 element.
type Heading struct {
	Level int
	Text  string
	Node  *goquery.Selection
}

// CodeBlock is a <pre> element and the heading it sits under.
type CodeBlock struct {
	Language string
	Text     string
	Heading  string
	Node     *goquery.Selection
}

// InlineCode is a <code> element outside of <pre>.
type InlineCode struct {
	Text string
	Node *goquery.Selection
}

// Table is a <table> element with link density statistics.
type Table struct {
	Rows       int
	LinkedRows int
	Heading    string
	LinkTexts  []string
	Node       *goquery.Selection
}

// Document is the structured view of one fetched page.
type Document struct {
	URL        string
	Title      string
	Excerpt    string
	Headings   []Heading
	Paragraphs []string
	CodeBlocks []CodeBlock
	InlineCode []InlineCode
	Tables     []Table
	Links      []string
	DOM        *goquery.Document
}

// Empty reports whether parsing produced no usable structure.
func (d Document) Empty() bool {
	return d.DOM == nil
}

// Parse decodes body using the declared content type and builds a Document.
// pageURL is used to resolve relative links. Parse never panics; input it
// cannot handle yields an empty Document.
func Parse(pageURL string, body []byte, contentType string) (out Document) {
	out = Document{URL: pageURL}
	defer func() {
		if recover() != nil {
			out = Document{URL: pageURL}
		}
	}()
	if len(body) == 0 {
		return out
	}

	decoded := decode(body, contentType)
	dom, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return out
	}
	out.DOM = dom

	base, _ := url.Parse(pageURL)
	if href, ok := dom.Find("base[href]").First().Attr("href"); ok && base != nil {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	out.Links = collectLinks(dom, base)

	dom.Find("script, style, noscript, template").Remove()

	out.Title = collapse(dom.Find("title").First().Text())
	walk(dom, &out)

	if base != nil {
		if article, err := readability.FromReader(bytes.NewReader(decoded), base); err == nil {
			if out.Title == "" {
				out.Title = collapse(article.Title)
			}
			out.Excerpt = collapse(article.Excerpt)
		}
	}
	if out.Title == "" {
		for _, h := range out.Headings {
			if h.Level == 1 {
				out.Title = h.Text
				break
			}
		}
	}
	return out
}

func decode(body []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}

// walk visits structural elements in document order, tracking the nearest
// preceding heading.
func walk(dom *goquery.Document, out *Document) {
	current := ""
	dom.Find(headingSelector + ", p, pre, code, table").Each(func(_ int, s *goquery.Selection) {
		switch name := goquery.NodeName(s); name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			text := collapse(s.Text())
			if text == "" {
				return
			}
			current = text
			out.Headings = append(out.Headings, Heading{Level: int(name[1] - '0'), Text: text, Node: s})
		case "p":
			if text := collapse(s.Text()); text != "" {
				out.Paragraphs = append(out.Paragraphs, text)
			}
		case "pre":
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return
			}
			out.CodeBlocks = append(out.CodeBlocks, CodeBlock{
				Language: language(s),
				Text:     text,
				Heading:  current,
				Node:     s,
			})
		case "code":
			if s.ParentsFiltered("pre").Length() > 0 {
				return
			}
			if text := collapse(s.Text()); text != "" {
				out.InlineCode = append(out.InlineCode, InlineCode{Text: text, Node: s})
			}
		case "table":
			out.Tables = append(out.Tables, table(s, current))
		}
	})
}

func table(s *goquery.Selection, heading string) Table {
	t := Table{Heading: heading, Node: s}
	s.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("td").Length() == 0 {
			return
		}
		t.Rows++
		link := row.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		t.LinkedRows++
		if text := collapse(link.Text()); text != "" {
			t.LinkTexts = append(t.LinkTexts, text)
		}
	})
	return t
}

func language(s *goquery.Selection) string {
	for _, sel := range []*goquery.Selection{s, s.Find("code").First()} {
		class, _ := sel.Attr("class")
		for _, c := range strings.Fields(class) {
			for _, prefix := range []string{"language-", "lang-"} {
				if strings.HasPrefix(c, prefix) {
					return strings.TrimPrefix(c, prefix)
				}
			}
		}
	}
	return ""
}

func collectLinks(dom *goquery.Document, base *url.URL) []string {
	if base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	dom.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// SectionText returns the text of the siblings following h up to the next
// heading of the same or higher rank.
func SectionText(h Heading) string {
	if h.Node == nil || h.Level < 1 {
		return ""
	}
	stops := make([]string, 0, h.Level)
	for level := 1; level <= h.Level; level++ {
		stops = append(stops, "h"+string(rune('0'+level)))
	}
	var parts []string
	h.Node.NextUntil(strings.Join(stops, ", ")).Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

// Text returns the whitespace-collapsed text of a selection.
func Text(s *goquery.Selection) string {
	return collapse(s.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
