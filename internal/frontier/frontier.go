// Package frontier holds the per-job queue of URLs waiting to be fetched along
// with the set of URLs the job has already scheduled.
package frontier

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

const (
	defaultExpectedURLs = 10_000
	falsePositiveRate   = 0.001
)

// Frontier is a FIFO of pending URL tasks plus a seen-set of normalized URLs.
// A URL is admitted at most once for the lifetime of the frontier.
type Frontier struct {
	mu        sync.Mutex
	maxDepth  int
	keepQuery bool
	queue     []crawler.URLTask
	seen      map[string]struct{}
	filter    *bloom.BloomFilter
}

// New builds a frontier that rejects tasks deeper than maxDepth. expected sizes
// the bloom prefilter; zero picks a default.
func New(maxDepth int, keepQuery bool, expected uint) *Frontier {
	if expected == 0 {
		expected = defaultExpectedURLs
	}
	return &Frontier{
		maxDepth:  maxDepth,
		keepQuery: keepQuery,
		seen:      make(map[string]struct{}),
		filter:    bloom.NewWithEstimates(expected, falsePositiveRate),
	}
}

// Offer normalizes rawURL and enqueues it at depth when it has not been seen
// and depth is within bounds. It returns the normalized URL and whether the
// task was admitted. Offering the same URL twice is a no-op.
func (f *Frontier) Offer(rawURL string, depth int) (string, bool) {
	if depth < 0 || depth > f.maxDepth {
		return "", false
	}
	key, err := crawler.NormalizeURL(rawURL, f.keepQuery)
	if err != nil {
		return "", false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// The bloom filter has no false negatives, so a miss skips the map lookup.
	if f.filter.TestString(key) {
		if _, ok := f.seen[key]; ok {
			return key, false
		}
	}
	f.filter.AddString(key)
	f.seen[key] = struct{}{}
	f.queue = append(f.queue, crawler.URLTask{URL: key, Depth: depth})
	return key, true
}

// Take pops the oldest pending task. The second result is false when the
// frontier is empty.
func (f *Frontier) Take() (crawler.URLTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queue) == 0 {
		return crawler.URLTask{}, false
	}
	task := f.queue[0]
	f.queue[0] = crawler.URLTask{}
	f.queue = f.queue[1:]
	return task, true
}

// Len returns the number of queued tasks.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Seen reports whether rawURL has already been admitted.
func (f *Frontier) Seen(rawURL string) bool {
	key, err := crawler.NormalizeURL(rawURL, f.keepQuery)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[key]
	return ok
}
