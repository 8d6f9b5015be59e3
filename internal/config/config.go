package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// Fetch modes selectable through crawl.mode.
const (
	ModeStatic   = "static"
	ModeRendered = "rendered"
)

// Output formats selectable through output.format.
const (
	FormatCSV      = "csv"
	FormatPostgres = "postgres"
	FormatSQLite   = "sqlite"
)

// Config captures everything needed to run one crawl session and persist its records.
type Config struct {
	Crawl     CrawlConfig     `yaml:"crawl"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rendering RenderingConfig `yaml:"rendering"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CrawlConfig controls the start URL, budget, fetch mode and politeness.
type CrawlConfig struct {
	StartURL       string            `yaml:"start_url"`
	MaxPages       int               `yaml:"max_pages"`
	Mode           string            `yaml:"mode"`
	Concurrency    int               `yaml:"concurrency"`
	UserAgents     []string          `yaml:"user_agents"`
	Headers        map[string]string `yaml:"headers"`
	ProxyURL       string            `yaml:"proxy_url"`
	RequestTimeout Duration          `yaml:"request_timeout"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
	Delay          DelayRange        `yaml:"delay"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	UserAgent string   `yaml:"user_agent"`
	Timeout   Duration `yaml:"timeout"`
}

// RenderingConfig tunes the headless browser used in rendered mode.
type RenderingConfig struct {
	Timeout         Duration `yaml:"timeout"`
	WaitForSelector string   `yaml:"wait_for_selector"`
	DisableHeadless bool     `yaml:"disable_headless"`
	ExecPath        string   `yaml:"exec_path"`
}

// OutputConfig selects where crawl records are written.
type OutputConfig struct {
	Format        string `yaml:"format"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	Table         string `yaml:"table"`
	LinkSeparator string `yaml:"link_separator"`

	// CreateDatabase creates the postgres database named in DSN when it is missing.
	CreateDatabase bool `yaml:"create_database"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// DefaultUserAgents is the browser user-agent pool rotated by the static fetcher.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxPages:       10,
			Mode:           ModeStatic,
			Concurrency:    1,
			UserAgents:     append([]string(nil), DefaultUserAgents...),
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(15 * time.Second),
			MaxBodyBytes:   6 * 1024 * 1024,
			Delay: DelayRange{
				Min: DurationFrom(1 * time.Second),
				Max: DurationFrom(3 * time.Second),
			},
		},
		Robots: RobotsConfig{
			Respect:   true,
			UserAgent: "*",
			Timeout:   DurationFrom(10 * time.Second),
		},
		Rendering: RenderingConfig{
			Timeout:         DurationFrom(10 * time.Second),
			WaitForSelector: "body",
		},
		Output: OutputConfig{
			Format:        FormatCSV,
			Path:          "scraped_data.csv",
			Table:         "page_records",
			LinkSeparator: " | ",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader on top of Default.
// The result is normalised but not validated; callers apply overrides and then call Validate.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalise()
	return &cfg, nil
}

// Normalise trims and lower-cases free-form fields.
func (c *Config) Normalise() {
	c.Crawl.StartURL = strings.TrimSpace(c.Crawl.StartURL)
	c.Crawl.Mode = strings.ToLower(strings.TrimSpace(c.Crawl.Mode))
	if c.Crawl.Mode == "" {
		c.Crawl.Mode = ModeStatic
	}
	c.Crawl.UserAgents = dedupe(c.Crawl.UserAgents)
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = map[string]string{}
	}
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Robots.UserAgent == "" {
		c.Robots.UserAgent = "*"
	}
	c.Rendering.WaitForSelector = strings.TrimSpace(c.Rendering.WaitForSelector)
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	if c.Output.Format == "" {
		c.Output.Format = FormatCSV
	}
	c.Output.Path = strings.TrimSpace(c.Output.Path)
	c.Output.Table = strings.TrimSpace(c.Output.Table)
}

// Validate enforces the invariants required before any network activity.
// Start URL and page budget problems wrap types.ErrInvalidInput.
func (c Config) Validate() error {
	if _, err := types.NewCrawlTarget(c.Crawl.StartURL); err != nil {
		return fmt.Errorf("crawl.start_url: %w", err)
	}
	if c.Crawl.MaxPages < 1 {
		return fmt.Errorf("%w: crawl.max_pages must be >= 1 (got %d)", types.ErrInvalidInput, c.Crawl.MaxPages)
	}
	switch c.Crawl.Mode {
	case ModeStatic, ModeRendered:
	default:
		return fmt.Errorf("%w: unsupported crawl.mode %q", types.ErrInvalidInput, c.Crawl.Mode)
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0 (got %d)", c.Crawl.Concurrency)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if err := c.Crawl.Delay.Validate(); err != nil {
		return fmt.Errorf("crawl.delay: %w", err)
	}
	switch c.Output.Format {
	case FormatCSV:
		if c.Output.Path == "" {
			return errors.New("output.path must be set for csv output")
		}
	case FormatPostgres, FormatSQLite:
		if strings.TrimSpace(c.Output.DSN) == "" {
			return fmt.Errorf("output.dsn must be set for %s output", c.Output.Format)
		}
		if c.Output.Table == "" {
			return errors.New("output.table must be set")
		}
	default:
		return fmt.Errorf("unsupported output.format %q", c.Output.Format)
	}
	return nil
}

// Rendered reports whether pages are fetched through the headless browser.
func (c CrawlConfig) Rendered() bool {
	return c.Mode == ModeRendered
}

func dedupe(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}
