package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/internal/fetcher"
	"github.com/robavelii/web-scrapper/internal/logging"
	"github.com/robavelii/web-scrapper/pkg/types"
)

// site is an httptest-backed website with per-path handlers and hit counters.
type site struct {
	srv    *httptest.Server
	mu     sync.Mutex
	pages  map[string]string
	status map[string]int
	robots string
	hits   map[string]int
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{pages: map[string]string{}, status: map[string]int{}, hits: map[string]int{}}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	body, ok := s.pages[r.URL.Path]
	status := s.status[r.URL.Path]
	robots := s.robots
	s.mu.Unlock()

	if r.URL.Path == "/robots.txt" {
		if robots == "" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(robots))
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func (s *site) url(path string) string {
	return s.srv.URL + path
}

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *site) snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.hits))
	for path, n := range s.hits {
		out[path] = n
	}
	return out
}

func (s *site) pageHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for path, n := range s.hits {
		if path != "/robots.txt" {
			total += n
		}
	}
	return total
}

func page(title string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// countingDelay records how often the politeness delay was charged.
type countingDelay struct{ n atomic.Int32 }

func (c *countingDelay) Delay() time.Duration {
	c.n.Add(1)
	return 0
}

func testConfig(start string, budget int) config.Config {
	cfg := config.Default()
	cfg.Crawl.StartURL = start
	cfg.Crawl.MaxPages = budget
	cfg.Crawl.Delay = config.DelayRange{}
	return cfg
}

func newTestEngine(cfg config.Config, opts ...Option) *Engine {
	base := []Option{
		WithLogger(logging.Discard()),
		WithDelayer(FixedDelay(0)),
		WithUserAgents(fetcher.FixedUserAgent("sitecrawler-test")),
	}
	return NewEngine(cfg, append(base, opts...)...)
}

func urls(records []types.PageRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.URL)
	}
	return out
}

func TestRunBudgetOneFetchesOnlyStart(t *testing.T) {
	s := newSite(t)
	s.pages["/"] = page("Home", "/a", "/b", "https://other.example.org/x")
	s.pages["/a"] = page("A")
	s.pages["/b"] = page("B")

	e := newTestEngine(testConfig(s.url("/"), 1))
	records, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, s.url("/"), records[0].URL)
	assert.Equal(t, "Home", records[0].Title)
	assert.Equal(t, []string{s.url("/a"), s.url("/b")}, records[0].InternalLinks)
	assert.Equal(t, []string{"https://other.example.org/x"}, records[0].ExternalLinks)
	assert.Equal(t, 1, s.pageHits())
	assert.Equal(t, StateDone, e.State())
}

func TestRunBreadthFirstOrder(t *testing.T) {
	s := newSite(t)
	s.pages["/"] = page("root", "/a", "/b")
	s.pages["/a"] = page("a", "/a/1", "/")
	s.pages["/b"] = page("b", "/b/1", "/a")
	s.pages["/a/1"] = page("a1")
	s.pages["/b/1"] = page("b1")

	records, err := newTestEngine(testConfig(s.url("/"), 10)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{s.url("/"), s.url("/a"), s.url("/b"), s.url("/a/1"), s.url("/b/1")}, urls(records))
	for _, path := range []string{"/", "/a", "/b", "/a/1", "/b/1"} {
		assert.Equal(t, 1, s.hitCount(path), path)
	}
}

func TestRunRobotsMissingAllowsAll(t *testing.T) {
	s := newSite(t)
	s.pages["/"] = page("root", "/private")
	s.pages["/private"] = page("private")

	records, err := newTestEngine(testConfig(s.url("/"), 5)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{s.url("/"), s.url("/private")}, urls(records))
	assert.Equal(t, 1, s.hitCount("/robots.txt"))
}

func TestRunRobotsDeniedURLIsNeverFetched(t *testing.T) {
	s := newSite(t)
	s.robots = "User-agent: *\nDisallow: /private\n"
	s.pages["/"] = page("root", "/private", "/public", "/private")
	s.pages["/public"] = page("public", "/private")
	s.pages["/private"] = page("private")

	delay := &countingDelay{}
	e := newTestEngine(testConfig(s.url("/"), 10), WithDelayer(delay))
	records, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{s.url("/"), s.url("/public")}, urls(records))
	assert.Zero(t, s.hitCount("/private"))
	stats := e.Stats()
	assert.Equal(t, 1, stats.Denied)
	assert.Equal(t, 2, stats.Fetched)
	// Only the root fetch is followed by a pause; "/public" ends the crawl.
	assert.EqualValues(t, 1, delay.n.Load())
}

func TestRunServerErrorIsSkippedNotRetried(t *testing.T) {
	s := newSite(t)
	s.pages["/"] = page("root", "/broken", "/ok", "/broken")
	s.status["/broken"] = http.StatusInternalServerError
	s.pages["/ok"] = page("ok", "/broken")

	delay := &countingDelay{}
	e := newTestEngine(testConfig(s.url("/"), 10), WithDelayer(delay))
	records, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{s.url("/"), s.url("/ok")}, urls(records))
	assert.Equal(t, 1, s.hitCount("/broken"))
	assert.Equal(t, 1, e.Stats().Failed)
	// Failed fetches still charge the delay.
	assert.EqualValues(t, 2, delay.n.Load())
}

func TestRunNoLinksTerminatesOnEmptyFrontier(t *testing.T) {
	s := newSite(t)
	s.pages["/"] = page("lonely")

	records, err := newTestEngine(testConfig(s.url("/"), 5)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, s.url("/"), records[0].URL)
}

func TestRunExternalLinksAreNeverFollowed(t *testing.T) {
	ext := newSite(t)
	ext.pages["/"] = page("external")

	s := newSite(t)
	s.pages["/"] = page("root", ext.url("/"))

	records, err := newTestEngine(testConfig(s.url("/"), 5)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{ext.url("/")}, records[0].ExternalLinks)
	assert.Zero(t, ext.pageHits())
}

func TestRunInvariantsOnLargeSite(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			s := newSite(t)
			for i := 0; i < 40; i++ {
				links := []string{fmt.Sprintf("/p/%d", (i+1)%40), fmt.Sprintf("/p/%d", (i*7)%40), "/", "https://elsewhere.test/"}
				s.pages[fmt.Sprintf("/p/%d", i)] = page(fmt.Sprintf("p%d", i), links...)
			}
			s.pages["/"] = page("root", "/p/0", "/p/20", "/missing")

			cfg := testConfig(s.url("/"), 15)
			cfg.Crawl.Concurrency = concurrency
			records, err := newTestEngine(cfg).Run(context.Background())
			require.NoError(t, err)

			assert.Len(t, records, 15)
			seen := map[string]struct{}{}
			for _, r := range records {
				_, dup := seen[r.URL]
				assert.False(t, dup, "duplicate record %s", r.URL)
				seen[r.URL] = struct{}{}

				src, err := url.Parse(r.URL)
				require.NoError(t, err)
				for _, l := range r.InternalLinks {
					u, err := url.Parse(l)
					require.NoError(t, err)
					assert.True(t, types.SameAuthority(src, u), l)
				}
				for _, l := range r.ExternalLinks {
					u, err := url.Parse(l)
					require.NoError(t, err)
					assert.False(t, types.SameAuthority(src, u), l)
				}
			}
			for path, n := range s.snapshot() {
				assert.LessOrEqual(t, n, 1, path)
			}
		})
	}
}

func TestRunInvalidInputMakesNoNetworkCalls(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		budget int
	}{
		{name: "bad url", start: "not a url", budget: 3},
		{name: "zero budget", start: "https://example.com/", budget: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeFetcher{}
			e := newTestEngine(testConfig(tt.start, tt.budget), WithFetcher(fake))
			records, err := e.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
			assert.Nil(t, records)
			assert.Zero(t, fake.calls.Load())
			assert.Zero(t, fake.closed.Load())
			assert.Equal(t, StateDone, e.State())
		})
	}
}

func TestRunReleasesFetcherExactlyOnce(t *testing.T) {
	s := newSite(t) // serves robots.txt 404
	fake := &fakeFetcher{pages: map[string]string{
		s.url("/"):  page("root", "/a"),
		s.url("/a"): page("a"),
	}}
	e := newTestEngine(testConfig(s.url("/"), 5), WithFetcher(fake))
	records, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.EqualValues(t, 1, fake.closed.Load())

	_, err = e.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.EqualValues(t, 1, fake.closed.Load())
}

func TestRunCancellationStillReleases(t *testing.T) {
	s := newSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeFetcher{
		pages: map[string]string{s.url("/"): page("root", "/a", "/b")},
		onFetch: func(target types.CrawlTarget) {
			if strings.HasSuffix(target.String(), "/a") {
				cancel()
			}
		},
	}
	fake.pages[s.url("/a")] = page("a")
	fake.pages[s.url("/b")] = page("b")

	e := newTestEngine(testConfig(s.url("/"), 10), WithFetcher(fake))
	records, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, records)
	assert.LessOrEqual(t, len(records), 2)
	assert.EqualValues(t, 1, fake.closed.Load())
	assert.Equal(t, StateDone, e.State())
}

func TestRunWorkerPanicReleasesFetcher(t *testing.T) {
	s := newSite(t)
	fake := &fakeFetcher{
		pages:   map[string]string{},
		onFetch: func(types.CrawlTarget) { panic("boom") },
	}
	e := newTestEngine(testConfig(s.url("/"), 3), WithFetcher(fake))
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.EqualValues(t, 1, fake.closed.Load())
}

type fakeFetcher struct {
	pages   map[string]string
	onFetch func(types.CrawlTarget)
	calls   atomic.Int32
	closed  atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, target types.CrawlTarget) (*types.Page, error) {
	f.calls.Add(1)
	if f.onFetch != nil {
		f.onFetch(target)
	}
	body, ok := f.pages[target.String()]
	if !ok {
		return nil, &types.FetchError{URL: target.String(), StatusCode: http.StatusNotFound}
	}
	return &types.Page{URL: target.URL, FinalURL: target.URL, Body: []byte(body), StatusCode: http.StatusOK}, nil
}

func (f *fakeFetcher) Close() error {
	f.closed.Add(1)
	return nil
}

func TestRandomDelayStaysInRange(t *testing.T) {
	d := NewRandomDelay(time.Second, 3*time.Second, nil)
	for i := 0; i < 500; i++ {
		got := d.Delay()
		assert.GreaterOrEqual(t, got, time.Second)
		assert.LessOrEqual(t, got, 3*time.Second)
	}
	assert.Equal(t, 2*time.Second, NewRandomDelay(2*time.Second, 2*time.Second, nil).Delay())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleep(ctx, time.Minute), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, sleep(context.Background(), 0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "state(42)", State(42).String())
}
