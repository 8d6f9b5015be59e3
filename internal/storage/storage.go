package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/pkg/types"
)

// Sink persists the records of one crawl.
type Sink interface {
	Write(ctx context.Context, records []types.PageRecord) error
}

// NewSink builds the sink selected by output.format.
func NewSink(cfg config.OutputConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Format {
	case "", config.FormatCSV:
		return NewCSVSink(cfg.Path, cfg.LinkSeparator), nil
	case config.FormatPostgres, config.FormatSQLite:
		sink, err := NewSQLSink(cfg, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", types.ErrInvalidInput, cfg.Format)
	}
}

// Persist hands records to sink. An empty result is logged and nothing is
// written. Sink failures are wrapped with types.ErrSinkWrite.
func Persist(ctx context.Context, sink Sink, records []types.PageRecord, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(records) == 0 {
		logger.Warn("no pages were scraped, nothing to save")
		return nil
	}
	if sink == nil {
		return fmt.Errorf("%w: no sink configured", types.ErrSinkWrite)
	}
	if err := sink.Write(ctx, records); err != nil {
		if errors.Is(err, types.ErrSinkWrite) {
			return err
		}
		return fmt.Errorf("%w: %w", types.ErrSinkWrite, err)
	}
	logger.Info("records saved", "count", len(records), "sink", describe(sink))
	return nil
}

// Close releases sink resources when the sink holds any.
func Close(sink Sink) error {
	if c, ok := sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func describe(sink Sink) string {
	if s, ok := sink.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", sink)
}
