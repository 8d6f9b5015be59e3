package cli

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robavelii/web-scrapper/internal/crawler"
	"github.com/robavelii/web-scrapper/internal/storage"
	"github.com/robavelii/web-scrapper/pkg/types"
)

func newTestSite(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<html><head><title>Home</title>
				<meta name="description" content="front page"></head>
				<body><a href="/about">About</a><a href="https://elsewhere.test/">Out</a></body></html>`))
		case "/about":
			_, _ = w.Write([]byte(`<html><head><title>About</title></head><body><p>about us</p></body></html>`))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, stdin string, opts []Option, args ...string) (string, string, error) {
	t.Helper()
	base := []Option{WithEngineOptions(crawler.WithDelayer(crawler.FixedDelay(0)))}
	cmd := NewRootCmd(append(base, opts...)...)
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestNewRootCmdFlags(t *testing.T) {
	cmd := NewRootCmd()
	tests := map[string]string{
		"config":    "c",
		"url":       "u",
		"max-pages": "n",
		"render":    "r",
		"output":    "o",
		"format":    "",
		"dsn":       "",
		"table":     "",
	}
	for name, short := range tests {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, short, flag.Shorthand, name)
	}
	assert.True(t, cmd.SilenceUsage)
}

func TestCrawlWritesCSV(t *testing.T) {
	srv := newTestSite(t, nil)
	path := filepath.Join(t.TempDir(), "out.csv")

	stdout, _, err := execute(t, "", nil, "--url", srv.URL+"/", "--max-pages", "5", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Scraped 2 pages")
	assert.Contains(t, stdout, path)

	records, err := storage.ReadCSV(path, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, srv.URL+"/", records[0].URL)
	assert.Equal(t, "front page", records[0].Description)
	assert.Equal(t, []string{srv.URL + "/about"}, records[0].InternalLinks)
	assert.Equal(t, []string{"https://elsewhere.test/"}, records[0].ExternalLinks)
	assert.Equal(t, "about us", records[1].Description)
}

func TestMissingURLWithoutTerminalFails(t *testing.T) {
	var hits atomic.Int32
	newTestSite(t, &hits)
	path := filepath.Join(t.TempDir(), "out.csv")

	_, _, err := execute(t, "", []Option{WithInteractive(false)}, "--output", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestInvalidBudgetMakesNoRequests(t *testing.T) {
	var hits atomic.Int32
	srv := newTestSite(t, &hits)

	_, _, err := execute(t, "", nil, "--url", srv.URL, "--max-pages", "0")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestInteractivePrompt(t *testing.T) {
	srv := newTestSite(t, nil)
	path := filepath.Join(t.TempDir(), "out.csv")

	stdout, _, err := execute(t, srv.URL+"/\n1\nn\n", []Option{WithInteractive(true)}, "--output", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Enter the URL to scrape: ")
	assert.Contains(t, stdout, "Enter the maximum number of pages to scrape [10]: ")

	records, err := storage.ReadCSV(path, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Home", records[0].Title)
}

func TestInteractivePromptRejectsBadAnswers(t *testing.T) {
	tests := map[string]string{
		"budget": "https://example.com/\nmany\n",
		"render": "https://example.com/\n\nmaybe\n",
		"eof":    "https://example.com/\n",
	}
	for name, stdin := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := execute(t, stdin, []Option{WithInteractive(true)})
			require.Error(t, err)
		})
	}
}

func TestZeroRecordsWritesNothing(t *testing.T) {
	srv := newTestSite(t, nil)
	path := filepath.Join(t.TempDir(), "out.csv")

	stdout, _, err := execute(t, "", nil, "--url", srv.URL+"/broken", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No pages were scraped.")
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestConfigFileWithFlagOverrides(t *testing.T) {
	srv := newTestSite(t, nil)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "crawl.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "crawl:\n  max_pages: 1\n  delay:\n    min: 0s\n    max: 0s\noutput:\n  format: sqlite\n  dsn: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	stdout, _, err := execute(t, "", nil, "--config", cfgPath, "--url", srv.URL+"/", "--table", "pages")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Data saved to table pages")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUnknownConfigFieldFails(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("crawl:\n  depth: 3\n"), 0o644))

	_, _, err := execute(t, "", nil, "--config", cfgPath)
	require.Error(t, err)
}

func TestRunsListsAndExportsStoredRuns(t *testing.T) {
	srv := newTestSite(t, nil)
	dbPath := filepath.Join(t.TempDir(), "crawl.db")

	stdout, _, err := execute(t, "", nil, "--url", srv.URL+"/", "--format", "sqlite", "--dsn", dbPath)
	require.NoError(t, err)
	_, runID, found := strings.Cut(strings.TrimSpace(stdout), "(run ")
	require.True(t, found, stdout)
	runID = strings.TrimSuffix(runID, ")")

	listing, _, err := execute(t, "", nil, "runs", "--format", "sqlite", "--dsn", dbPath)
	require.NoError(t, err)
	assert.Equal(t, runID+"\t2\t"+srv.URL+"/\n", listing)

	export, _, err := execute(t, "", nil, "runs", runID, "--format", "sqlite", "--dsn", dbPath)
	require.NoError(t, err)
	records, err := storage.DecodeCSV(strings.NewReader(export), "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, srv.URL+"/about", records[1].URL)

	_, _, err = execute(t, "", nil, "runs", "no-such-run", "--format", "sqlite", "--dsn", dbPath)
	assert.ErrorContains(t, err, "no records stored")

	_, _, err = execute(t, "", nil, "runs")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
