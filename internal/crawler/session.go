package crawler

import (
	"sync"

	"github.com/robavelii/web-scrapper/internal/robots"
	"github.com/robavelii/web-scrapper/pkg/types"
)

// Stats counts what happened to the URLs taken off the frontier.
type Stats struct {
	Fetched    int
	Failed     int
	Denied     int
	Discovered int
}

// Session owns the mutable state of one crawl: frontier, robots policy,
// visited set and the accumulated records. Workers coordinate through it.
type Session struct {
	start    types.CrawlTarget
	budget   int
	frontier *Frontier
	policy   *robots.Policy

	mu       sync.Mutex
	cond     *sync.Cond
	visited  map[string]struct{}
	records  []types.PageRecord
	inflight int
	stopped  bool
	stats    Stats
}

func newSession(start types.CrawlTarget, budget int, policy *robots.Policy) *Session {
	s := &Session{
		start:    start,
		budget:   budget,
		frontier: NewFrontier(),
		policy:   policy,
		visited:  make(map[string]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if s.frontier.Push(start) {
		s.stats.Discovered++
	}
	return s
}

// next hands out the next target and reserves one budget slot for it. It
// blocks while the frontier is empty but other workers may still discover
// links, and returns false once the crawl is over.
func (s *Session) next() (types.CrawlTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped || len(s.records) >= s.budget {
			return types.CrawlTarget{}, false
		}
		if len(s.records)+s.inflight >= s.budget {
			// In-flight fetches may still fail and hand their slot back.
			s.cond.Wait()
			continue
		}
		target, err := s.frontier.Pop()
		if err != nil {
			if s.inflight == 0 {
				return types.CrawlTarget{}, false
			}
			s.cond.Wait()
			continue
		}
		if _, done := s.visited[canonicalKey(target.URL)]; done {
			continue
		}
		s.inflight++
		return target, true
	}
}

// outcome is what a worker reports back for one target.
type outcome struct {
	record *types.PageRecord
	links  []types.CrawlTarget
	denied bool
	failed bool
}

// complete releases the slot reserved by next, stores the record and queues
// the unseen links.
func (s *Session) complete(target types.CrawlTarget, out outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cond.Broadcast()

	s.inflight--
	switch {
	case out.denied:
		s.stats.Denied++
	case out.failed:
		s.stats.Failed++
	}
	if out.record == nil {
		return
	}

	key := canonicalKey(target.URL)
	if _, done := s.visited[key]; done {
		return
	}
	s.visited[key] = struct{}{}
	s.records = append(s.records, *out.record)
	s.stats.Fetched++

	for _, link := range out.links {
		if s.frontier.Push(link) {
			s.stats.Discovered++
		}
	}
}

// exhausted reports whether no further iteration can produce work, so the
// politeness delay can be skipped.
func (s *Session) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.records) >= s.budget {
		return true
	}
	return s.inflight == 0 && s.frontier.Len() == 0
}

// stop wakes every parked worker and makes next return false.
func (s *Session) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Records returns a copy of the records gathered so far, in completion order.
func (s *Session) Records() []types.PageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.PageRecord(nil), s.records...)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
