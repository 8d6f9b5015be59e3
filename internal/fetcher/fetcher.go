package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/pkg/types"
)

// Fetcher retrieves the raw markup of one crawl target. Failures are
// returned as *types.FetchError. Close releases the session's network or
// browser resources and must be called exactly once.
type Fetcher interface {
	Fetch(ctx context.Context, target types.CrawlTarget) (*types.Page, error)
	Close() error
}

// Options carries the collaborators shared by both fetcher variants.
type Options struct {
	UserAgents UserAgentSource
	Logger     *slog.Logger
	// Client overrides the HTTP client of the static fetcher; used by tests.
	Client *http.Client
}

// New builds the fetcher variant selected by crawl.mode.
func New(cfg config.Config, opts Options) (Fetcher, error) {
	if opts.UserAgents == nil {
		pool := cfg.Crawl.UserAgents
		if len(pool) == 0 {
			pool = config.DefaultUserAgents
		}
		opts.UserAgents = NewRotatingUserAgents(pool, nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch cfg.Crawl.Mode {
	case config.ModeStatic, "":
		f, err := NewStaticFetcher(StaticOptions{
			UserAgents:   opts.UserAgents,
			Headers:      cfg.Crawl.Headers,
			Timeout:      cfg.Crawl.RequestTimeout.Duration,
			MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
			ProxyURL:     cfg.Crawl.ProxyURL,
			Client:       opts.Client,
			Logger:       opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.ModeRendered:
		f, err := NewRenderedFetcher(RenderOptions{
			Timeout:         cfg.Rendering.Timeout.Duration,
			WaitForSelector: cfg.Rendering.WaitForSelector,
			UserAgent:       opts.UserAgents.UserAgent(),
			MaxBodyBytes:    cfg.Crawl.MaxBodyBytes,
			DisableHeadless: cfg.Rendering.DisableHeadless,
			ExecPath:        cfg.Rendering.ExecPath,
			ProxyURL:        cfg.Crawl.ProxyURL,
			Logger:          opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unsupported fetch mode %q", types.ErrInvalidInput, cfg.Crawl.Mode)
	}
}

func fetchFailure(target types.CrawlTarget, err error) *types.FetchError {
	fe := &types.FetchError{URL: target.String(), Err: err}
	if isTimeout(err) {
		fe.Timeout = true
	}
	return fe
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
