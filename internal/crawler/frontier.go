package crawler

import (
	"net/url"
	"strings"
	"sync"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// Frontier is the FIFO queue of pending targets plus the seen-set that keeps
// any URL from being queued twice in a session.
type Frontier struct {
	mu    sync.Mutex
	queue []types.CrawlTarget
	head  int
	seen  map[string]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{seen: make(map[string]struct{})}
}

// Push queues target unless its canonical form was seen before. The URL is
// registered as seen immediately, before it is ever fetched.
func (f *Frontier) Push(target types.CrawlTarget) bool {
	if target.URL == nil {
		return false
	}
	key := canonicalKey(target.URL)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}
	f.queue = append(f.queue, target)
	return true
}

// Pop removes and returns the earliest queued target, or types.ErrEmptyFrontier.
func (f *Frontier) Pop() (types.CrawlTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked()
}

func (f *Frontier) popLocked() (types.CrawlTarget, error) {
	if f.head >= len(f.queue) {
		return types.CrawlTarget{}, types.ErrEmptyFrontier
	}
	target := f.queue[f.head]
	f.queue[f.head] = types.CrawlTarget{}
	f.head++
	if f.head == len(f.queue) {
		f.queue = f.queue[:0]
		f.head = 0
	}
	return target, nil
}

// contains reports whether u was ever pushed.
func (f *Frontier) contains(u *url.URL) bool {
	if u == nil {
		return false
	}
	key := canonicalKey(u)
	f.mu.Lock()
	_, ok := f.seen[key]
	f.mu.Unlock()
	return ok
}

// Len is the number of queued, not yet popped, targets.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

// canonicalKey lower-cases scheme and host, drops default ports and the
// fragment, and maps an empty path to "/".
func canonicalKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	normalized := url.URL{Scheme: scheme, Host: u.Host}
	key := scheme + "://" + types.Authority(&normalized)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key += path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}
