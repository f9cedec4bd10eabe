package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yairfalse/driftwatch/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Gateway on a SQLite file. The one-open-alert-per-
// fingerprint invariant is enforced by a partial unique index.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path and applies migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveScanRun stores or replaces a run.
func (s *SQLiteStore) SaveScanRun(ctx context.Context, run types.ScanRun) error {
	return wrap("save_scan_run", upsertRun(ctx, s.db, run))
}

// GetScanRun returns one run by ID.
func (s *SQLiteStore) GetScanRun(ctx context.Context, id string) (types.ScanRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM scan_runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ScanRun{}, fmt.Errorf("scan run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.ScanRun{}, wrap("get_scan_run", err)
	}

	var run types.ScanRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return types.ScanRun{}, wrap("get_scan_run", err)
	}
	return run, nil
}

// ListScanRuns returns the newest runs first.
func (s *SQLiteStore) ListScanRuns(ctx context.Context, limit int) ([]types.ScanRun, error) {
	query := `SELECT data FROM scan_runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list_scan_runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []types.ScanRun
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("list_scan_runs", err)
		}
		var run types.ScanRun
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, wrap("list_scan_runs", err)
		}
		runs = append(runs, run)
	}
	return runs, wrap("list_scan_runs", rows.Err())
}

// LatestScanRun returns the most recently started run.
func (s *SQLiteStore) LatestScanRun(ctx context.Context) (types.ScanRun, error) {
	runs, err := s.ListScanRuns(ctx, 1)
	if err != nil {
		return types.ScanRun{}, err
	}
	if len(runs) == 0 {
		return types.ScanRun{}, fmt.Errorf("latest scan run: %w", ErrNotFound)
	}
	return runs[0], nil
}

// UpsertAlert stores one alert.
func (s *SQLiteStore) UpsertAlert(ctx context.Context, alert types.Alert) error {
	return wrap("upsert_alert", upsertAlert(ctx, s.db, alert))
}

// Commit writes the run and every alert in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, run types.ScanRun, alerts []types.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Closes first so a successor alert never collides with the unique index.
	ordered := slices.Clone(alerts)
	slices.SortStableFunc(ordered, func(a, b types.Alert) int {
		return boolRank(a.Status.Open()) - boolRank(b.Status.Open())
	})
	for _, a := range ordered {
		if err := upsertAlert(ctx, tx, a); err != nil {
			return wrap("commit", err)
		}
	}
	if err := upsertRun(ctx, tx, run); err != nil {
		return wrap("commit", err)
	}
	return wrap("commit", tx.Commit())
}

// GetAlert returns one alert by ID.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (types.Alert, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM alerts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Alert{}, wrap("get_alert", err)
	}

	var a types.Alert
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return types.Alert{}, wrap("get_alert", err)
	}
	return a, nil
}

// ListOpenAlerts returns every non-terminal alert.
func (s *SQLiteStore) ListOpenAlerts(ctx context.Context) ([]types.Alert, error) {
	return s.ListAlerts(ctx, types.AlertFilter{Statuses: types.OpenStatuses})
}

// ListAlerts returns matching alerts, most recently seen first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.Alert, error) {
	where, args := alertWhere(filter)
	query := `SELECT data FROM alerts` + where + ` ORDER BY last_seen DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list_alerts", err)
	}
	defer func() { _ = rows.Close() }()

	alerts := []types.Alert{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("list_alerts", err)
		}
		var a types.Alert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, wrap("list_alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, wrap("list_alerts", rows.Err())
}

// Prune removes runs and closed alerts beyond the configured history.
func (s *SQLiteStore) Prune(ctx context.Context, keepRuns, keepClosedAlerts int) (PruneResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PruneResult{}, wrap("prune", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result PruneResult
	if keepRuns > 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM scan_runs WHERE id NOT IN (
			SELECT id FROM scan_runs ORDER BY started_at DESC, id DESC LIMIT ?)`, keepRuns)
		if err != nil {
			return PruneResult{}, wrap("prune", err)
		}
		n, _ := res.RowsAffected()
		result.ScanRuns = int(n)
	}
	if keepClosedAlerts > 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE closed_at IS NOT NULL AND id NOT IN (
			SELECT id FROM alerts WHERE closed_at IS NOT NULL ORDER BY closed_at DESC, id ASC LIMIT ?)`, keepClosedAlerts)
		if err != nil {
			return PruneResult{}, wrap("prune", err)
		}
		n, _ := res.RowsAffected()
		result.Alerts = int(n)
	}
	if err := tx.Commit(); err != nil {
		return PruneResult{}, wrap("prune", err)
	}
	return result, nil
}

func upsertRun(ctx context.Context, db execer, run types.ScanRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO scan_runs (id, started_at, status, trigger_kind, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			status = excluded.status,
			trigger_kind = excluded.trigger_kind,
			data = excluded.data`,
		run.ID, run.StartedAt.UnixNano(), string(run.Status), string(run.Trigger), string(data))
	return err
}

func upsertAlert(ctx context.Context, db execer, a types.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var closedAt any
	if !a.Status.Open() {
		closedAt = a.ClosedAt().UnixNano()
	}
	_, err = db.ExecContext(ctx, `INSERT INTO alerts
		(id, fingerprint, status, severity, resource_type, resource_id, region, last_seen, closed_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			severity = excluded.severity,
			resource_type = excluded.resource_type,
			resource_id = excluded.resource_id,
			region = excluded.region,
			last_seen = excluded.last_seen,
			closed_at = excluded.closed_at,
			data = excluded.data`,
		a.ID, a.Fingerprint, string(a.Status), string(a.Severity), a.ResourceType, a.ResourceID,
		a.Region, a.LastSeen.UnixNano(), closedAt, string(data))
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %s: %w", a.ID, ErrConflict)
	}
	return err
}

func alertWhere(f types.AlertFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.Severities) > 0 {
		clauses = append(clauses, "severity IN ("+placeholders(len(f.Severities))+")")
		for _, sev := range f.Severities {
			args = append(args, string(sev))
		}
	}
	if f.ResourceType != "" {
		clauses = append(clauses, "resource_type = ?")
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Region != "" {
		clauses = append(clauses, "region = ?")
		args = append(args, f.Region)
	}
	if f.Fingerprint != "" {
		clauses = append(clauses, "fingerprint = ?")
		args = append(args, f.Fingerprint)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "last_seen >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
