package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/internal/extractor"
	"github.com/robavelii/web-scrapper/internal/fetcher"
	"github.com/robavelii/web-scrapper/internal/robots"
	"github.com/robavelii/web-scrapper/pkg/types"
)

// State is the lifecycle phase of an Engine.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned when Run is called twice on one Engine.
var ErrAlreadyStarted = errors.New("crawl engine already started")

// Option customises an Engine.
type Option func(*Engine)

// WithFetcher injects a fetcher instead of building one from crawl.mode.
// The engine still closes it when the crawl ends.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithDelayer replaces the randomized politeness delay.
func WithDelayer(d Delayer) Option {
	return func(e *Engine) { e.delayer = d }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithUserAgents sets the user-agent source handed to the fetcher.
func WithUserAgents(src fetcher.UserAgentSource) Option {
	return func(e *Engine) { e.userAgents = src }
}

// WithHTTPClient sets the client used for robots.txt and static fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// Engine runs one bounded, single-domain crawl: it pops targets from the
// frontier, checks robots rules, fetches, extracts and queues in-domain links
// until the frontier drains or the page budget is met.
type Engine struct {
	cfg        config.Config
	fetcher    fetcher.Fetcher
	delayer    Delayer
	userAgents fetcher.UserAgentSource
	client     *http.Client
	logger     *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	session *Session
}

// NewEngine builds an engine from configuration. No network activity happens
// until Run.
func NewEngine(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.delayer == nil {
		e.delayer = NewRandomDelay(cfg.Crawl.Delay.Min.Duration, cfg.Crawl.Delay.Max.Duration, nil)
	}
	return e
}

// State reports the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	e.logger.Debug("crawl state changed", "from", prev.String(), "to", s.String())
}

// Stats returns the counters of the current or last session.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return Stats{}
	}
	return s.Stats()
}

// Run executes the crawl. Per-URL failures never escape: only invalid input,
// fetcher start-up errors, worker panics and context cancellation are
// returned. Records gathered before a cancellation are returned with ctx.Err().
// The fetcher is released on every exit path.
func (e *Engine) Run(ctx context.Context) ([]types.PageRecord, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateInitializing)) {
		return nil, ErrAlreadyStarted
	}

	start, err := types.NewCrawlTarget(e.cfg.Crawl.StartURL)
	if err != nil {
		e.setState(StateDone)
		return nil, err
	}
	budget := e.cfg.Crawl.MaxPages
	if budget < 1 {
		e.setState(StateDone)
		return nil, fmt.Errorf("%w: page budget must be >= 1 (got %d)", types.ErrInvalidInput, budget)
	}

	f, err := e.acquireFetcher()
	if err != nil {
		e.setState(StateDone)
		return nil, fmt.Errorf("acquire fetcher: %w", err)
	}
	defer e.release(f)

	gate := robots.NewGate(e.cfg.Robots, e.robotsClient(f), e.logger)
	policy := gate.Load(ctx, start)

	session := newSession(start, budget, policy)
	e.mu.Lock()
	e.session = session
	e.mu.Unlock()

	e.setState(StateRunning)
	e.logger.Info("crawl started",
		"start_url", start.String(),
		"domain", start.Domain,
		"max_pages", budget,
		"mode", e.cfg.Crawl.Mode,
		"concurrency", e.cfg.Crawl.Concurrency,
	)

	err = runWorkers(ctx, e.cfg.Crawl.Concurrency, session.stop, func(ctx context.Context, id int) error {
		e.work(ctx, session, f, gate.UserAgent(), id)
		return nil
	})

	records := session.Records()
	stats := session.Stats()
	e.logger.Info("crawl finished",
		"records", len(records),
		"failed", stats.Failed,
		"denied", stats.Denied,
		"discovered", stats.Discovered,
	)

	if err != nil {
		return records, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return records, ctxErr
	}
	return records, nil
}

func (e *Engine) work(ctx context.Context, s *Session, f fetcher.Fetcher, userAgent string, id int) {
	logger := e.logger.With("worker", id)
	for ctx.Err() == nil {
		target, ok := s.next()
		if !ok {
			return
		}
		charged := e.process(ctx, s, f, userAgent, target, logger)
		if !charged || s.exhausted() {
			continue
		}
		if err := sleep(ctx, e.delayer.Delay()); err != nil {
			return
		}
	}
}

// process handles one target and reports whether a request was made, which
// is what charges the politeness delay.
func (e *Engine) process(ctx context.Context, s *Session, f fetcher.Fetcher, userAgent string, target types.CrawlTarget, logger *slog.Logger) (charged bool) {
	var out outcome
	defer func() { s.complete(target, out) }()

	if !s.policy.Allowed(target.URL, userAgent) {
		logger.Info("skipping url disallowed by robots.txt", "url", target.String(), "error", types.ErrPolicyDenied)
		out.denied = true
		return false
	}

	logger.Info("scraping", "url", target.String())
	page, err := f.Fetch(ctx, target)
	if err != nil {
		out.failed = true
		if ctx.Err() != nil {
			return false
		}
		var fe *types.FetchError
		if errors.As(err, &fe) && fe.StatusCode != 0 {
			logger.Warn("fetch failed", "url", target.String(), "status", fe.StatusCode)
		} else {
			logger.Error("fetch failed", "url", target.String(), "error", err)
		}
		return true
	}

	record := extractor.Parse(page.Body, target.URL)
	out.record = &record
	for _, raw := range record.InternalLinks {
		link, err := types.NewCrawlTarget(raw)
		if err != nil {
			continue
		}
		out.links = append(out.links, link)
	}
	logger.Debug("page extracted",
		"url", target.String(),
		"internal_links", len(record.InternalLinks),
		"external_links", len(record.ExternalLinks),
		"latency_ms", page.ResponseLatency.Milliseconds(),
	)
	return true
}

func (e *Engine) acquireFetcher() (fetcher.Fetcher, error) {
	if e.fetcher != nil {
		return e.fetcher, nil
	}
	return fetcher.New(e.cfg, fetcher.Options{
		UserAgents: e.userAgents,
		Logger:     e.logger,
		Client:     e.client,
	})
}

// robotsClient shares the static fetcher's HTTP session when there is one.
func (e *Engine) robotsClient(f fetcher.Fetcher) *http.Client {
	if e.client != nil {
		return e.client
	}
	if sf, ok := f.(*fetcher.StaticFetcher); ok {
		return sf.Client()
	}
	return nil
}

func (e *Engine) release(f fetcher.Fetcher) {
	e.setState(StateDraining)
	if err := f.Close(); err != nil {
		e.logger.Warn("release fetcher failed", "error", err)
	}
	e.setState(StateDone)
}
