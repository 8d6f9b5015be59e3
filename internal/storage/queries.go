package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// RunSummary describes one stored crawl run.
type RunSummary struct {
	RunID    string
	Records  int
	FirstURL string
}

// Records returns the rows stored under runID in insertion order. An empty
// runID selects the sink's own run.
func (s *SQLSink) Records(ctx context.Context, runID string) ([]types.PageRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sql store not initialised")
	}
	if strings.TrimSpace(runID) == "" {
		runID = s.runID
	}
	query := fmt.Sprintf(`
        SELECT url, title, description, keywords, author, internal_links, external_links
        FROM %s
        WHERE run_id = %s
        ORDER BY position ASC
    `, s.quotedTable(), s.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []types.PageRecord
	for rows.Next() {
		var (
			r        types.PageRecord
			internal string
			external string
		)
		if err := rows.Scan(&r.URL, &r.Title, &r.Description, &r.Keywords, &r.Author, &internal, &external); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.InternalLinks = splitLinks(internal, s.separator)
		r.ExternalLinks = splitLinks(external, s.separator)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Runs lists stored runs, most rows first.
func (s *SQLSink) Runs(ctx context.Context) ([]RunSummary, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sql store not initialised")
	}
	query := fmt.Sprintf(`
        SELECT run_id, COUNT(*), MIN(CASE WHEN position = 0 THEN url END)
        FROM %s
        GROUP BY run_id
        ORDER BY COUNT(*) DESC, run_id ASC
    `, s.quotedTable())

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run   RunSummary
			first *string
		)
		if err := rows.Scan(&run.RunID, &run.Records, &first); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if first != nil {
			run.FirstURL = *first
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
