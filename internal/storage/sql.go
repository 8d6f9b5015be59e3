package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/pkg/types"
)

// DefaultTable receives records when output.table is empty.
const DefaultTable = "page_records"

// SQLSink inserts records into a postgres or sqlite table. Every Write runs in
// a single transaction and tags its rows with the sink's run id.
type SQLSink struct {
	db        *sql.DB
	driver    string
	dsn       string
	table     string
	separator string
	runID     string
	createDB  bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewSQLSink opens (lazily) the database selected by cfg.Format.
func NewSQLSink(cfg config.OutputConfig, logger *slog.Logger) (*SQLSink, error) {
	driver, err := driverFor(cfg.Format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%w: %s output needs a dsn", types.ErrInvalidInput, cfg.Format)
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = DefaultTable
	}
	separator := cfg.LinkSeparator
	if separator == "" {
		separator = DefaultLinkSeparator
	}
	return &SQLSink{
		db:        db,
		driver:    driver,
		dsn:       cfg.DSN,
		table:     table,
		separator: separator,
		runID:     uuid.NewString(),
		createDB:  cfg.CreateDatabase,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func driverFor(format string) (string, error) {
	switch format {
	case config.FormatPostgres:
		return "postgres", nil
	case config.FormatSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("%w: no sql driver for format %q", types.ErrInvalidInput, format)
	}
}

// RunID identifies the rows written by this sink.
func (s *SQLSink) RunID() string { return s.runID }

// Table is the destination table name.
func (s *SQLSink) Table() string { return s.table }

func (s *SQLSink) String() string { return s.driver + ":" + s.table }

// Write inserts records in one transaction, creating the table first if needed.
func (s *SQLSink) Write(ctx context.Context, records []types.PageRecord) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: sql sink not initialised", types.ErrSinkWrite)
	}
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrSinkWrite, err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrSinkWrite, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", types.ErrSinkWrite, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.insertQuery())
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", types.ErrSinkWrite, err)
	}
	defer stmt.Close()

	scrapedAt := s.now().UTC()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx,
			s.runID,
			i,
			r.URL,
			r.Title,
			r.Description,
			r.Keywords,
			r.Author,
			strings.Join(r.InternalLinks, s.separator),
			strings.Join(r.ExternalLinks, s.separator),
			scrapedAt,
		); err != nil {
			return fmt.Errorf("%w: insert %s: %w", types.ErrSinkWrite, r.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", types.ErrSinkWrite, err)
	}
	s.logger.Debug("sql sink committed", "table", s.table, "run_id", s.runID, "rows", len(records))
	return nil
}

// Close closes the underlying DB connection.
func (s *SQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSink) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := s.db.PingContext(pingCtx)
	if err == nil {
		return nil
	}
	if !s.createDB || !shouldAttemptCreateDatabase(s.driver, err) {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	if err := createDatabase(pingCtx, s.driver, s.dsn); err != nil {
		return err
	}
	s.logger.Info("created missing database", "driver", s.driver)
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return nil
}

func (s *SQLSink) quotedTable() string {
	return pq.QuoteIdentifier(s.table)
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	table := s.quotedTable()
	idColumn := "id BIGSERIAL PRIMARY KEY"
	timeType := "TIMESTAMPTZ"
	if s.driver == "sqlite" {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
		timeType = "TIMESTAMP"
	}
	indexName := pq.QuoteIdentifier("idx_" + s.table + "_run_id")
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		    %s,
		    run_id TEXT NOT NULL,
		    position INTEGER NOT NULL,
		    url TEXT NOT NULL,
		    title TEXT NOT NULL DEFAULT '',
		    description TEXT NOT NULL DEFAULT '',
		    keywords TEXT NOT NULL DEFAULT '',
		    author TEXT NOT NULL DEFAULT '',
		    internal_links TEXT NOT NULL DEFAULT '',
		    external_links TEXT NOT NULL DEFAULT '',
		    scraped_at %s NOT NULL
		)`, table, idColumn, timeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (run_id, position)`, indexName, table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLSink) insertQuery() string {
	cols := []string{"run_id", "position", "url", "title", "description", "keywords", "author", "internal_links", "external_links", "scraped_at"}
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = s.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.quotedTable(), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func (s *SQLSink) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if driver != "postgres" {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// maintenanceDSN rewrites a postgres DSN, in URL or key=value form, so it
// points at the "postgres" maintenance database. It also returns the database
// name the original DSN targets.
func maintenanceDSN(dsn string) (admin, dbName string, err error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse dsn: %w", err)
		}
		dbName = strings.TrimPrefix(parsed.Path, "/")
		parsed.Path = "/postgres"
		admin = parsed.String()
	} else {
		if strings.ContainsAny(dsn, `'\`) {
			return "", "", errors.New("quoted key=value dsn is not supported for database creation")
		}
		fields := strings.Fields(dsn)
		for i, field := range fields {
			key, value, ok := strings.Cut(field, "=")
			if ok && key == "dbname" {
				dbName = value
				fields[i] = "dbname=postgres"
			}
		}
		admin = strings.Join(fields, " ")
	}
	switch {
	case dbName == "":
		return "", "", errors.New("dsn missing database name")
	case strings.EqualFold(dbName, "postgres"):
		return "", "", fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	return admin, dbName, nil
}

// createDatabase issues CREATE DATABASE through the maintenance database.
// An already existing database (42P04) counts as success.
func createDatabase(ctx context.Context, driver, dsn string) error {
	admin, dbName, err := maintenanceDSN(dsn)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	adminDB, err := sql.Open(driver, admin)
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer adminDB.Close()

	_, err = adminDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName))
	var pqErr *pq.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pqErr) && pqErr.Code == "42P04":
		return nil
	default:
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
}
