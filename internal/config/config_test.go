package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robavelii/web-scrapper/pkg/types"
)

func TestLoadFromReaderMergesDefaults(t *testing.T) {
	raw := `
crawl:
  start_url: " https://example.com/ "
  max_pages: 25
  mode: Rendered
  delay:
    min: 500ms
    max: 2
output:
  format: SQLite
  dsn: "file:crawl.db"
logging:
  level: debug
`
	cfg, err := LoadFromReader(strings.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://example.com/", cfg.Crawl.StartURL)
	assert.Equal(t, 25, cfg.Crawl.MaxPages)
	assert.True(t, cfg.Crawl.Rendered())
	assert.Equal(t, 500*time.Millisecond, cfg.Crawl.Delay.Min.Duration)
	assert.Equal(t, 2*time.Second, cfg.Crawl.Delay.Max.Duration)
	assert.Equal(t, FormatSQLite, cfg.Output.Format)
	assert.Equal(t, "page_records", cfg.Output.Table)
	assert.Equal(t, 10*time.Second, cfg.Rendering.Timeout.Duration)
	assert.Equal(t, "body", cfg.Rendering.WaitForSelector)
	assert.NotEmpty(t, cfg.Crawl.UserAgents)
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("crawl:\n  depth: 3\n"))
	require.Error(t, err)
}

func TestLoadFromReaderEmptyDocument(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Crawl.MaxPages, cfg.Crawl.MaxPages)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Crawl.StartURL = "https://example.com/"
		return cfg
	}

	tests := []struct {
		name         string
		mutate       func(*Config)
		invalidInput bool
	}{
		{name: "missing start url", mutate: func(c *Config) { c.Crawl.StartURL = "" }, invalidInput: true},
		{name: "relative start url", mutate: func(c *Config) { c.Crawl.StartURL = "/docs" }, invalidInput: true},
		{name: "zero budget", mutate: func(c *Config) { c.Crawl.MaxPages = 0 }, invalidInput: true},
		{name: "negative budget", mutate: func(c *Config) { c.Crawl.MaxPages = -4 }, invalidInput: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Crawl.Mode = "curl" }, invalidInput: true},
		{name: "inverted delay", mutate: func(c *Config) {
			c.Crawl.Delay = DelayRange{Min: DurationFrom(3 * time.Second), Max: DurationFrom(time.Second)}
		}},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Output.Format = FormatPostgres }},
		{name: "unknown format", mutate: func(c *Config) { c.Output.Format = "xlsx" }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Crawl.Concurrency = 0 }},
	}

	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.invalidInput {
				assert.ErrorIs(t, err, types.ErrInvalidInput)
			} else {
				assert.NotErrorIs(t, err, types.ErrInvalidInput)
			}
		})
	}
}
