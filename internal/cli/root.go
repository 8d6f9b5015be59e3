// Package cli wires configuration, crawl engine and sinks into the
// sitecrawler command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/internal/crawler"
	"github.com/robavelii/web-scrapper/internal/logging"
	"github.com/robavelii/web-scrapper/internal/storage"
	"github.com/robavelii/web-scrapper/pkg/types"
)

const appName = "sitecrawler"

// flags holds raw command-line values; only flags the user set override the
// configuration file.
type flags struct {
	configPath   string
	url          string
	maxPages     int
	render       bool
	output       string
	format       string
	dsn          string
	table        string
	concurrency  int
	minDelay     time.Duration
	maxDelay     time.Duration
	ignoreRobots bool
	logLevel     string
	jsonLogs     bool
}

// Option customises the root command, mostly for tests.
type Option func(*runner)

// WithEngineOptions appends crawler options to every engine the command builds.
func WithEngineOptions(opts ...crawler.Option) Option {
	return func(r *runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithInteractive overrides terminal detection on stdin.
func WithInteractive(interactive bool) Option {
	return func(r *runner) { r.interactive = func(io.Reader) bool { return interactive } }
}

type runner struct {
	flags       flags
	engineOpts  []crawler.Option
	interactive func(io.Reader) bool
}

// NewRootCmd creates the sitecrawler command.
func NewRootCmd(opts ...Option) *cobra.Command {
	r := &runner{interactive: isTerminal}
	for _, opt := range opts {
		opt(r)
	}

	cmd := &cobra.Command{
		Use:   appName + " [--url URL]",
		Short: "Crawl one website breadth-first and export page metadata",
		Long: `sitecrawler visits pages of a single website, starting from one URL and
following only links on the same host, until a page budget is reached.
robots.txt rules are honoured. For every page it records the title,
description, keywords, author and the internal and external links.

Records are written to CSV by default, or to a postgres or sqlite table.
When --url is omitted and stdin is a terminal, the values are prompted for.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          r.run,
	}

	f := cmd.Flags()
	f.StringVarP(&r.flags.configPath, "config", "c", "", "Path to a YAML configuration file")
	f.StringVarP(&r.flags.url, "url", "u", "", "Start URL of the crawl")
	f.IntVarP(&r.flags.maxPages, "max-pages", "n", 0, "Maximum number of pages to scrape")
	f.BoolVarP(&r.flags.render, "render", "r", false, "Render pages in a headless browser before extraction")
	f.StringVarP(&r.flags.output, "output", "o", "", "CSV output path")
	f.StringVar(&r.flags.format, "format", "", "Output format: csv, postgres or sqlite")
	f.StringVar(&r.flags.dsn, "dsn", "", "Database DSN for postgres or sqlite output")
	f.StringVar(&r.flags.table, "table", "", "Destination table for SQL output")
	f.IntVar(&r.flags.concurrency, "concurrency", 0, "Number of pages fetched in parallel")
	f.DurationVar(&r.flags.minDelay, "min-delay", 0, "Minimum pause after each request")
	f.DurationVar(&r.flags.maxDelay, "max-delay", 0, "Maximum pause after each request")
	f.BoolVar(&r.flags.ignoreRobots, "ignore-robots", false, "Do not fetch or honour robots.txt")

	pf := cmd.PersistentFlags()
	pf.StringVar(&r.flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVar(&r.flags.jsonLogs, "json-logs", false, "Emit structured JSON logs")

	cmd.AddCommand(newRunsCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (r *runner) run(cmd *cobra.Command, _ []string) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Crawl.StartURL == "" && r.interactive(cmd.InOrStdin()) {
		if err := prompt(cmd.InOrStdin(), cmd.OutOrStdout(), &cfg); err != nil {
			return err
		}
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	sink, err := storage.NewSink(cfg.Output, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := storage.Close(sink); cerr != nil {
			logger.Warn("close sink failed", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineOpts := append([]crawler.Option{crawler.WithLogger(logger)}, r.engineOpts...)
	engine := crawler.NewEngine(cfg, engineOpts...)
	records, runErr := engine.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil {
		logger.Warn("crawl interrupted, saving partial results", "records", len(records))
	}

	if err := storage.Persist(context.WithoutCancel(ctx), sink, records, logger); err != nil {
		return err
	}
	report(cmd.OutOrStdout(), records, engine.Stats(), sink)
	return runErr
}

func (r *runner) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if r.flags.configPath != "" {
		loaded, err := config.Load(r.flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}

	f := cmd.Flags()
	if f.Changed("url") {
		cfg.Crawl.StartURL = r.flags.url
	}
	if f.Changed("max-pages") {
		cfg.Crawl.MaxPages = r.flags.maxPages
	}
	if f.Changed("render") {
		cfg.Crawl.Mode = config.ModeStatic
		if r.flags.render {
			cfg.Crawl.Mode = config.ModeRendered
		}
	}
	if f.Changed("output") {
		cfg.Output.Path = r.flags.output
	}
	if f.Changed("format") {
		cfg.Output.Format = r.flags.format
	}
	if f.Changed("dsn") {
		cfg.Output.DSN = r.flags.dsn
	}
	if f.Changed("table") {
		cfg.Output.Table = r.flags.table
	}
	if f.Changed("concurrency") {
		cfg.Crawl.Concurrency = r.flags.concurrency
	}
	if f.Changed("min-delay") {
		cfg.Crawl.Delay.Min = config.DurationFrom(r.flags.minDelay)
	}
	if f.Changed("max-delay") {
		cfg.Crawl.Delay.Max = config.DurationFrom(r.flags.maxDelay)
	}
	if f.Changed("ignore-robots") {
		cfg.Robots.Respect = !r.flags.ignoreRobots
	}
	applyLoggingFlags(cmd, &cfg)
	return cfg, nil
}

// applyLoggingFlags copies the persistent logging flags onto cfg when set.
func applyLoggingFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("log-level") {
		if level, err := f.GetString("log-level"); err == nil {
			cfg.Logging.Level = level
		}
	}
	if f.Changed("json-logs") {
		if structured, err := f.GetBool("json-logs"); err == nil {
			cfg.Logging.Structured = structured
		}
	}
}

func report(w io.Writer, records []types.PageRecord, stats crawler.Stats, sink storage.Sink) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No pages were scraped.")
		return
	}
	fmt.Fprintf(w, "Scraped %d pages (%d failed, %d disallowed by robots.txt).\n", len(records), stats.Failed, stats.Denied)
	switch s := sink.(type) {
	case *storage.CSVSink:
		fmt.Fprintf(w, "Data saved to %s\n", s.Path())
	case *storage.SQLSink:
		fmt.Fprintf(w, "Data saved to table %s (run %s)\n", s.Table(), s.RunID())
	}
}
