package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// StaticOptions controls plain HTTP fetching.
type StaticOptions struct {
	UserAgents   UserAgentSource
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
	Client       *http.Client
	Logger       *slog.Logger
}

// StaticFetcher issues a single GET per target and accepts only HTTP 200.
type StaticFetcher struct {
	client       *http.Client
	userAgents   UserAgentSource
	extraHeaders map[string]string
	maxBodyBytes int64
	logger       *slog.Logger
	transport    *http.Transport
}

// NewStaticFetcher constructs an HTTP fetcher using the provided options.
func NewStaticFetcher(opts StaticOptions) (*StaticFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.UserAgents == nil {
		opts.UserAgents = FixedUserAgent("")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	f := &StaticFetcher{
		userAgents:   opts.UserAgents,
		extraHeaders: make(map[string]string, len(opts.Headers)),
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}
	for k, v := range opts.Headers {
		f.extraHeaders[k] = v
	}

	if opts.Client != nil {
		f.client = opts.Client
		return f, nil
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	f.transport = transport
	f.client = &http.Client{Timeout: opts.Timeout, Transport: transport}
	return f, nil
}

// Client exposes the underlying HTTP client so robots.txt shares the session.
func (f *StaticFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Fetch downloads a single URL.
func (f *StaticFetcher) Fetch(ctx context.Context, target types.CrawlTarget) (*types.Page, error) {
	if target.URL == nil {
		return nil, fetchFailure(target, errors.New("target URL is nil"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), nil)
	if err != nil {
		return nil, fetchFailure(target, fmt.Errorf("build request: %w", err))
	}
	if ua := f.userAgents.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range f.extraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchFailure(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &types.FetchError{URL: target.String(), StatusCode: resp.StatusCode}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, fetchFailure(target, err)
	}

	finalURL := target.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &types.Page{
		URL:             target.URL,
		FinalURL:        finalURL,
		Body:            body,
		ContentType:     resp.Header.Get("Content-Type"),
		StatusCode:      resp.StatusCode,
		Headers:         resp.Header.Clone(),
		FetchedAt:       time.Now(),
		ResponseLatency: time.Since(start),
	}, nil
}

// readBody decodes the transfer encoding, transcodes to UTF-8 and enforces the size cap.
func (f *StaticFetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	raw, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		f.logger.Debug("charset detection failed, keeping raw bytes", "error", err)
		return raw, nil
	}
	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("transcode body: %w", err)
	}
	return body, nil
}

// Close drops idle keep-alive connections held by the session.
func (f *StaticFetcher) Close() error {
	if f.transport != nil {
		f.transport.CloseIdleConnections()
	} else if f.client != nil {
		f.client.CloseIdleConnections()
	}
	return nil
}
