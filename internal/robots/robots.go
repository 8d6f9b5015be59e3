package robots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/pkg/types"
)

const maxRobotsBytes = 512 * 1024

// Policy is the immutable robots rule set of one domain. A nil rule set allows everything.
type Policy struct {
	domain string
	rules  *robotstxt.RobotsData
}

// AllowAll returns a policy that never denies.
func AllowAll(domain string) *Policy {
	return &Policy{domain: domain}
}

// Parse builds a policy from a robots.txt body.
func Parse(domain string, body []byte) (*Policy, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &Policy{domain: domain, rules: data}, nil
}

// Domain is the authority the policy was loaded for.
func (p *Policy) Domain() string {
	return p.domain
}

// Permissive reports whether the policy is the allow-all fallback.
func (p *Policy) Permissive() bool {
	return p == nil || p.rules == nil
}

// Allowed reports whether userAgent may fetch target.
func (p *Policy) Allowed(target *url.URL, userAgent string) bool {
	if target == nil {
		return false
	}
	if p.Permissive() {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return p.rules.TestAgent(path, userAgent)
}

// Gate loads the robots policy for the crawl domain.
type Gate struct {
	client    *http.Client
	userAgent string
	respect   bool
	logger    *slog.Logger
}

// NewGate constructs a gate from configuration. A nil client gets a dedicated one.
func NewGate(cfg config.RobotsConfig, client *http.Client, logger *slog.Logger) *Gate {
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		client:    client,
		userAgent: cfg.UserAgent,
		respect:   cfg.Respect,
		logger:    logger,
	}
}

// UserAgent is the agent name robots rules are evaluated for.
func (g *Gate) UserAgent() string {
	return g.userAgent
}

// Load fetches robots.txt for the target's authority. It never fails: any
// problem is logged and answered with the allow-all policy.
func (g *Gate) Load(ctx context.Context, target types.CrawlTarget) *Policy {
	if !g.respect {
		g.logger.Debug("robots.txt enforcement disabled", "domain", target.Domain)
		return AllowAll(target.Domain)
	}

	robotsURL := robotsURLFor(target)
	policy, err := g.fetch(ctx, target.Domain, robotsURL)
	if err != nil {
		g.logger.Warn("robots.txt unavailable, allowing all paths", "url", robotsURL, "error", err)
		return AllowAll(target.Domain)
	}
	g.logger.Debug("robots.txt loaded", "url", robotsURL)
	return policy
}

func (g *Gate) fetch(ctx context.Context, domain, robotsURL string) (*Policy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", types.ErrRobotsUnavailable, err)
	}
	if g.userAgent != "" && g.userAgent != "*" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRobotsUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", types.ErrRobotsUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", types.ErrRobotsUnavailable, err)
	}
	policy, err := Parse(domain, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRobotsUnavailable, err)
	}
	return policy, nil
}

func robotsURLFor(target types.CrawlTarget) string {
	scheme := "https"
	if target.URL != nil && target.URL.Scheme != "" {
		scheme = target.URL.Scheme
	}
	return (&url.URL{Scheme: scheme, Host: target.Domain, Path: "/robots.txt"}).String()
}
