package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// RenderOptions configures the headless browser session.
type RenderOptions struct {
	Timeout         time.Duration
	WaitForSelector string
	UserAgent       string
	MaxBodyBytes    int64
	DisableHeadless bool
	ExecPath        string
	ProxyURL        string
	Logger          *slog.Logger
}

// RenderedFetcher drives one headless Chrome process for the whole crawl
// session. Every Fetch opens a fresh tab in that browser.
type RenderedFetcher struct {
	opts RenderOptions

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// chromedp tabs of one browser are not safe to drive concurrently.
	mu        sync.Mutex
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewRenderedFetcher starts the browser process.
func NewRenderedFetcher(opts RenderOptions) (*RenderedFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if strings.TrimSpace(opts.WaitForSelector) == "" {
		opts.WaitForSelector = "body"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", !opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := selectUserAgent(opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.ProxyURL != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Running an empty action list launches the browser so start-up errors surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &RenderedFetcher{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        opts.Logger,
	}, nil
}

// Fetch navigates to the target, waits for the body and returns the rendered DOM.
func (r *RenderedFetcher) Fetch(ctx context.Context, target types.CrawlTarget) (*types.Page, error) {
	if target.URL == nil {
		return nil, fetchFailure(target, errors.New("target URL is nil"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.browserCtx.Err(); err != nil {
		return nil, fetchFailure(target, fmt.Errorf("browser closed: %w", err))
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()
	runCtx, cancel := context.WithTimeout(tabCtx, r.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	logger := r.logger.With("url", target.String(), "timeout", r.opts.Timeout.String())
	logger.Debug("chromedp starting render", "wait_for_selector", r.opts.WaitForSelector)

	start := time.Now()
	var html, finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(target.URL.String()),
		chromedp.WaitReady(r.opts.WaitForSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, &types.FetchError{URL: target.String(), Timeout: true, Err: err}
		}
		return nil, fetchFailure(target, fmt.Errorf("chromedp run: %w", err))
	}

	if int64(len(html)) > r.opts.MaxBodyBytes {
		return nil, fetchFailure(target, fmt.Errorf("rendered body exceeds limit of %d bytes", r.opts.MaxBodyBytes))
	}

	final := target.URL
	if finalURL != "" {
		if u, err := url.Parse(finalURL); err == nil {
			final = u
		}
	}

	latency := time.Since(start)
	logger.Debug("chromedp render complete",
		"latency_ms", latency.Milliseconds(),
		"final_url", final.String(),
		"html_bytes", len(html),
	)
	return &types.Page{
		URL:             target.URL,
		FinalURL:        final,
		Body:            []byte(html),
		ContentType:     "text/html; charset=utf-8",
		StatusCode:      200,
		FetchedAt:       time.Now(),
		Rendered:        true,
		ResponseLatency: latency,
	}, nil
}

// Close terminates the browser process. Subsequent calls are no-ops.
func (r *RenderedFetcher) Close() error {
	r.closeOnce.Do(func() {
		r.browserCancel()
		r.allocCancel()
	})
	return nil
}

func selectUserAgent(base string) string {
	if strings.TrimSpace(base) != "" {
		return base
	}
	return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
}
