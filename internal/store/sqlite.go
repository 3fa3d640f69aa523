package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/sensebox-frequency/internal/sensebox"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS reports (
  run_id      TEXT PRIMARY KEY,
  city_key    TEXT NOT NULL,
  started_at  TEXT NOT NULL,
  payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_city_started ON reports(city_key, started_at);
`

const (
	insertReportSQL = `INSERT INTO reports (run_id, city_key, started_at, payload) VALUES (?, ?, ?, ?)`
	latestReportSQL = `SELECT payload FROM reports WHERE city_key = ? ORDER BY started_at DESC LIMIT 1`
	rangeReportsSQL = `SELECT payload FROM reports WHERE city_key = ? AND started_at >= ? AND started_at <= ? ORDER BY started_at ASC`
	pruneCountSQL   = `DELETE FROM reports WHERE city_key = ? AND run_id NOT IN (
  SELECT run_id FROM reports WHERE city_key = ? ORDER BY started_at DESC LIMIT ?)`
	pruneAgeSQL = `DELETE FROM reports WHERE city_key = ? AND started_at < ? AND run_id NOT IN (
  SELECT run_id FROM reports WHERE city_key = ? ORDER BY started_at DESC LIMIT 1)`
)

// timestamps are stored with a fixed width so they sort lexically.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists reports in a SQLite database with the same retention
// rules as MemoryStore.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	maxAge     time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// OpenSQLite opens (and creates if needed) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string, maxHistory int, maxAge time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}

	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveReport inserts a report and enforces retention for its city.
func (s *SQLiteStore) SaveReport(report sensebox.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := CityKey(report.City)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("rollback report tx", "error", err)
		}
	}()

	if _, err := tx.Exec(insertReportSQL, report.RunID, key, formatStoredTime(report.StartedAt), string(payload)); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if s.maxHistory > 0 {
		if _, err := tx.Exec(pruneCountSQL, key, key, s.maxHistory); err != nil {
			return fmt.Errorf("prune reports: %w", err)
		}
	}
	if s.maxAge > 0 {
		cutoff := formatStoredTime(s.now().Add(-s.maxAge))
		if _, err := tx.Exec(pruneAgeSQL, key, cutoff, key); err != nil {
			return fmt.Errorf("prune reports: %w", err)
		}
	}
	return tx.Commit()
}

// GetLatest returns the most recent report for a city.
func (s *SQLiteStore) GetLatest(city string) (sensebox.Report, error) {
	var payload string
	err := s.db.QueryRow(latestReportSQL, CityKey(city)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return sensebox.Report{}, ErrNotFound
	}
	if err != nil {
		return sensebox.Report{}, err
	}
	return decodeReport(payload)
}

// GetRange returns all reports for a city started between from and to (inclusive).
func (s *SQLiteStore) GetRange(city string, from, to time.Time) ([]sensebox.Report, error) {
	rows, err := s.db.Query(rangeReportsSQL, CityKey(city), formatStoredTime(from), formatStoredTime(to))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close report rows", "error", err)
		}
	}()

	var out []sensebox.Report
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		r, err := decodeReport(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func decodeReport(payload string) (sensebox.Report, error) {
	var r sensebox.Report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return sensebox.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}
