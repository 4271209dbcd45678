// Package frontier tracks which URLs a single crawl job has seen and still has to visit.
//
// A Frontier is owned by exactly one job loop and is not safe for concurrent use.
package frontier

import (
	"fmt"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/urlfilter"
)

// Frontier is a FIFO queue of pending URLs plus the set of visited URLs.
// A URL lives in at most one of the two sets and is enqueued at most once per job.
type Frontier struct {
	rootURL    string
	scope      crawler.ScopeConfig
	visited    map[string]struct{}
	pendingSet map[string]struct{}
	queue      []string
	discovered int
	rejected   map[urlfilter.Reason]int
}

// New builds an empty frontier for a job rooted at rootURL.
func New(rootURL string, scope crawler.ScopeConfig) (*Frontier, error) {
	if _, err := crawler.ParseHTTPURL(rootURL); err != nil {
		return nil, err
	}
	normalized, err := crawler.NormalizeURL(rootURL)
	if err != nil {
		return nil, fmt.Errorf("normalize root: %w", err)
	}
	return &Frontier{
		rootURL:    normalized,
		scope:      scope,
		visited:    make(map[string]struct{}),
		pendingSet: make(map[string]struct{}),
		rejected:   make(map[urlfilter.Reason]int),
	}, nil
}

// RootURL returns the normalized root.
func (f *Frontier) RootURL() string {
	return f.rootURL
}

// Seed enqueues the root URL. The root is never subject to the scope filter.
func (f *Frontier) Seed(rootURL string) error {
	normalized, err := crawler.NormalizeURL(rootURL)
	if err != nil {
		return fmt.Errorf("normalize seed: %w", err)
	}
	if f.seen(normalized) {
		return nil
	}
	f.push(normalized)
	return nil
}

// EnqueueDiscovered resolves candidates against currentPageURL, filters and dedupes them,
// and appends the survivors in discovery order. It returns how many were accepted.
func (f *Frontier) EnqueueDiscovered(urls []string, currentPageURL string) int {
	current, err := crawler.NormalizeURL(currentPageURL)
	if err != nil {
		current = currentPageURL
	}
	accepted := 0
	for _, raw := range urls {
		f.discovered++
		if isFragmentOnly(raw) {
			f.rejected[urlfilter.ReasonFragment]++
			continue
		}
		resolved, err := crawler.ResolveReference(currentPageURL, raw)
		if err != nil {
			f.rejected[urlfilter.ReasonMalformed]++
			continue
		}
		if resolved == current {
			// Same document, different fragment.
			continue
		}
		decision := urlfilter.Check(resolved, f.rootURL, f.scope)
		if !decision.Allowed {
			f.rejected[decision.Reason]++
			continue
		}
		if f.seen(resolved) {
			continue
		}
		f.push(resolved)
		accepted++
	}
	return accepted
}

// DequeueNext pops the oldest pending URL and marks it visited.
func (f *Frontier) DequeueNext() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	next := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	delete(f.pendingSet, next)
	f.visited[next] = struct{}{}
	return next, true
}

// MarkVisited records a URL (typically a redirect target) as visited so it is never fetched.
// It reports whether the URL was already visited.
func (f *Frontier) MarkVisited(rawURL string) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if _, ok := f.visited[normalized]; ok {
		return true
	}
	if _, ok := f.pendingSet[normalized]; ok {
		delete(f.pendingSet, normalized)
		for i, queued := range f.queue {
			if queued == normalized {
				f.queue = append(f.queue[:i], f.queue[i+1:]...)
				break
			}
		}
	}
	f.visited[normalized] = struct{}{}
	return false
}

// IsVisited reports whether the normalized URL has been dequeued or marked.
func (f *Frontier) IsVisited(rawURL string) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	_, ok := f.visited[normalized]
	return ok
}

// IsExhausted reports whether nothing remains to visit.
func (f *Frontier) IsExhausted() bool {
	return len(f.queue) == 0
}

// Len returns the number of pending URLs.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// VisitedCount returns the number of visited URLs.
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Discovered returns how many candidate links have been offered so far.
func (f *Frontier) Discovered() int {
	return f.discovered
}

// Rejected returns a copy of the per-reason rejection counters.
func (f *Frontier) Rejected() map[urlfilter.Reason]int {
	out := make(map[urlfilter.Reason]int, len(f.rejected))
	for k, v := range f.rejected {
		out[k] = v
	}
	return out
}

func (f *Frontier) seen(normalized string) bool {
	if _, ok := f.visited[normalized]; ok {
		return true
	}
	_, ok := f.pendingSet[normalized]
	return ok
}

func (f *Frontier) push(normalized string) {
	f.pendingSet[normalized] = struct{}{}
	f.queue = append(f.queue, normalized)
}

func isFragmentOnly(raw string) bool {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '#':
			return true
		default:
			return false
		}
	}
	return false
}
