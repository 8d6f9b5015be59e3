package types

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CrawlTarget is a URL scheduled on the crawl frontier together with its authority.
type CrawlTarget struct {
	URL    *url.URL
	Domain string
}

// NewCrawlTarget parses raw into an absolute http(s) target.
func NewCrawlTarget(raw string) (CrawlTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CrawlTarget{}, fmt.Errorf("%w: empty url", ErrInvalidInput)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return CrawlTarget{}, fmt.Errorf("%w: parse url %q: %v", ErrInvalidInput, raw, err)
	}
	return TargetFromURL(parsed)
}

// TargetFromURL wraps an already parsed URL, rejecting anything without an http(s) authority.
func TargetFromURL(u *url.URL) (CrawlTarget, error) {
	if u == nil {
		return CrawlTarget{}, fmt.Errorf("%w: nil url", ErrInvalidInput)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return CrawlTarget{}, fmt.Errorf("%w: unsupported scheme %q in %q", ErrInvalidInput, u.Scheme, u.String())
	}
	if u.Hostname() == "" {
		return CrawlTarget{}, fmt.Errorf("%w: url %q missing host", ErrInvalidInput, u.String())
	}
	clone := *u
	clone.Scheme = scheme
	return CrawlTarget{URL: &clone, Domain: Authority(&clone)}, nil
}

// String returns the target URL.
func (t CrawlTarget) String() string {
	if t.URL == nil {
		return ""
	}
	return t.URL.String()
}

// Authority returns the lower-cased host[:port] of u with the scheme's default port removed.
func Authority(u *url.URL) string {
	if u == nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || port == defaultPort(strings.ToLower(u.Scheme)) {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + port
}

// SameAuthority reports whether two URLs share an authority.
func SameAuthority(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return Authority(a) == Authority(b)
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// Page represents the fetched content.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// PageRecord is the extracted metadata of one successfully crawled page.
type PageRecord struct {
	URL           string
	Title         string
	Description   string
	Keywords      string
	Author        string
	InternalLinks []string
	ExternalLinks []string
}
