// Package scope decides which discovered links a job may follow.
package scope

import (
	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

// Policy admits links on the seed's origin plus hosts on an explicit allow
// list.
type Policy struct {
	allowed []string
}

// New creates a Policy. allowedHosts may be empty.
func New(allowedHosts []string) *Policy {
	return &Policy{allowed: allowedHosts}
}

// Allow reports whether link may be crawled for a job seeded at seed.
func (p *Policy) Allow(seed, link string) bool {
	if crawler.SameOrigin(seed, link) {
		return true
	}
	return len(p.allowed) > 0 && crawler.HostAllowed(link, p.allowed)
}

// Filter returns the links Allow accepts, preserving order.
func (p *Policy) Filter(seed string, links []string) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		if p.Allow(seed, link) {
			out = append(out, link)
		}
	}
	return out
}
