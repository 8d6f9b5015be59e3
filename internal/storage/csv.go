package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// DefaultLinkSeparator joins link lists inside a single CSV cell.
const DefaultLinkSeparator = " | "

// csvHeader is the fixed column order of exported files.
var csvHeader = []string{"url", "title", "description", "keywords", "author", "internal_links", "external_links"}

// CSVSink writes records to a CSV file, one row per page.
type CSVSink struct {
	path      string
	separator string
}

// NewCSVSink returns a sink writing to path. An empty separator falls back to
// DefaultLinkSeparator.
func NewCSVSink(path, separator string) *CSVSink {
	if separator == "" {
		separator = DefaultLinkSeparator
	}
	return &CSVSink{path: path, separator: separator}
}

// Path is the destination file.
func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) String() string { return "csv:" + s.path }

// Write replaces the destination file with records.
func (s *CSVSink) Write(ctx context.Context, records []types.PageRecord) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.path == "" {
		return fmt.Errorf("%w: csv path is empty", types.ErrSinkWrite)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create output dir: %w", types.ErrSinkWrite, err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", types.ErrSinkWrite, s.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close %s: %w", types.ErrSinkWrite, s.path, cerr))
		}
	}()
	if err := EncodeCSV(f, records, s.separator); err != nil {
		return fmt.Errorf("%w: write %s: %w", types.ErrSinkWrite, s.path, err)
	}
	return nil
}

// EncodeCSV writes the header and one row per record to w.
func EncodeCSV(w io.Writer, records []types.PageRecord, separator string) error {
	if separator == "" {
		separator = DefaultLinkSeparator
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.URL,
			r.Title,
			r.Description,
			r.Keywords,
			r.Author,
			strings.Join(r.InternalLinks, separator),
			strings.Join(r.ExternalLinks, separator),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV loads a file produced by CSVSink.
func ReadCSV(path, separator string) ([]types.PageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCSV(f, separator)
}

// DecodeCSV parses CSV rows written by EncodeCSV. Link cells are split on
// separator; an empty cell yields an empty list.
func DecodeCSV(r io.Reader, separator string) ([]types.PageRecord, error) {
	if separator == "" {
		separator = DefaultLinkSeparator
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if !slices.Equal(header, csvHeader) {
		return nil, fmt.Errorf("unexpected csv header %q", strings.Join(header, ","))
	}
	var records []types.PageRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		records = append(records, types.PageRecord{
			URL:           row[0],
			Title:         row[1],
			Description:   row[2],
			Keywords:      row[3],
			Author:        row[4],
			InternalLinks: splitLinks(row[5], separator),
			ExternalLinks: splitLinks(row[6], separator),
		})
	}
	return records, nil
}

func splitLinks(cell, separator string) []string {
	if cell == "" {
		return []string{}
	}
	return strings.Split(cell, separator)
}
