// Package store persists scan history and flagged findings to SQLite so
// past detections survive process restarts and can be queried later.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/agentfence/agentfence/internal/threat"
)

// ErrNotFound is returned when a requested scan does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id           TEXT PRIMARY KEY,
	root         TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	completed_at INTEGER,
	checked      INTEGER NOT NULL DEFAULT 0,
	flagged      INTEGER NOT NULL DEFAULT 0,
	max_level    TEXT NOT NULL DEFAULT 'none'
);

CREATE TABLE IF NOT EXISTS findings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id     TEXT REFERENCES scans(id),
	detector    TEXT NOT NULL,
	level       TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	description TEXT NOT NULL,
	evidence    TEXT NOT NULL,
	input       TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id);
CREATE INDEX IF NOT EXISTS idx_findings_level ON findings(level);
`

// Scan is one recorded scan run. CompletedAt is zero while in progress.
type Scan struct {
	ID          string
	Root        string
	StartedAt   time.Time
	CompletedAt time.Time
	Checked     int
	Flagged     int
	MaxLevel    threat.Severity
}

// Finding is one persisted flagged result. ScanID is empty for ad-hoc
// checks recorded outside a directory scan.
type Finding struct {
	ID        int64
	ScanID    string
	Input     string
	Result    threat.Result
	CreatedAt time.Time
}

// Store wraps a SQLite database holding scans and findings.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database. Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginScan records the start of a scan run.
func (s *Store) BeginScan(ctx context.Context, id, root string, started time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, root, started_at) VALUES (?, ?, ?)`,
		id, root, started.Unix())
	if err != nil {
		return fmt.Errorf("store: recording scan start: %w", err)
	}
	return nil
}

// FinishScan records the completion of a scan run.
func (s *Store) FinishScan(ctx context.Context, id string, checked, flagged int, maxLevel threat.Severity, completed time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET completed_at = ?, checked = ?, flagged = ?, max_level = ? WHERE id = ?`,
		completed.Unix(), checked, flagged, maxLevel.String(), id)
	if err != nil {
		return fmt.Errorf("store: recording scan completion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: finishing scan %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordFinding persists one flagged result. Safe results are ignored so
// callers can record every check without filtering first.
func (s *Store) RecordFinding(ctx context.Context, scanID, input string, res threat.Result) error {
	if res.Safe {
		return nil
	}

	var sid any
	if scanID != "" {
		sid = scanID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO findings (scan_id, detector, level, rule_id, description, evidence, input, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sid, res.Detector.String(), res.Level.String(), res.RuleID,
		res.Description, res.Evidence, input, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: recording finding: %w", err)
	}
	return nil
}

// ScanByID returns one scan run, or ErrNotFound.
func (s *Store) ScanByID(ctx context.Context, id string) (Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, root, started_at, completed_at, checked, flagged, max_level
		 FROM scans WHERE id = ?`, id)

	scan, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Scan{}, fmt.Errorf("store: scan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Scan{}, fmt.Errorf("store: loading scan: %w", err)
	}
	return scan, nil
}

// RecentScans returns up to limit scan runs, newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, root, started_at, completed_at, checked, flagged, max_level
		 FROM scans ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scans []Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: reading scan row: %w", err)
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// RecentFindings returns up to limit findings at or above minLevel, newest first.
func (s *Store) RecentFindings(ctx context.Context, minLevel threat.Severity, limit int) ([]Finding, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scan_id, detector, level, rule_id, description, evidence, input, created_at
		 FROM findings ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: listing findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []Finding
	for rows.Next() {
		var (
			f         Finding
			scanID    sql.NullString
			detector  string
			level     string
			createdAt int64
		)
		err := rows.Scan(&f.ID, &scanID, &detector, &level, &f.Result.RuleID,
			&f.Result.Description, &f.Result.Evidence, &f.Input, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: reading finding row: %w", err)
		}

		sev := threat.ParseSeverity(level)
		if sev < minLevel {
			continue
		}

		f.ScanID = scanID.String
		f.Result.Level = sev
		f.Result.Detector = parseDetector(detector)
		f.CreatedAt = time.Unix(createdAt, 0)
		findings = append(findings, f)

		if len(findings) == limit {
			break
		}
	}
	return findings, rows.Err()
}

// FindingsByScan returns all findings recorded under one scan, oldest first.
func (s *Store) FindingsByScan(ctx context.Context, scanID string) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scan_id, detector, level, rule_id, description, evidence, input, created_at
		 FROM findings WHERE scan_id = ? ORDER BY id ASC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("store: listing scan findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []Finding
	for rows.Next() {
		var (
			f         Finding
			scanID    sql.NullString
			detector  string
			level     string
			createdAt int64
		)
		err := rows.Scan(&f.ID, &scanID, &detector, &level, &f.Result.RuleID,
			&f.Result.Description, &f.Result.Evidence, &f.Input, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: reading finding row: %w", err)
		}
		f.ScanID = scanID.String
		f.Result.Level = threat.ParseSeverity(level)
		f.Result.Detector = parseDetector(detector)
		f.CreatedAt = time.Unix(createdAt, 0)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// Prune deletes findings and completed scans older than cutoff, returning
// the number of findings removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM findings WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: pruning findings: %w", err)
	}
	removed, _ := res.RowsAffected()

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM scans WHERE completed_at IS NOT NULL AND completed_at < ?
		 AND id NOT IN (SELECT DISTINCT scan_id FROM findings WHERE scan_id IS NOT NULL)`,
		cutoff.Unix())
	if err != nil {
		return removed, fmt.Errorf("store: pruning scans: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (Scan, error) {
	var (
		scan      Scan
		started   int64
		completed sql.NullInt64
		level     string
	)
	err := row.Scan(&scan.ID, &scan.Root, &started, &completed, &scan.Checked, &scan.Flagged, &level)
	if err != nil {
		return Scan{}, err
	}
	scan.StartedAt = time.Unix(started, 0)
	if completed.Valid {
		scan.CompletedAt = time.Unix(completed.Int64, 0)
	}
	scan.MaxLevel = threat.ParseSeverity(level)
	return scan, nil
}

func parseDetector(label string) threat.Detector {
	var d threat.Detector
	_ = d.UnmarshalJSON([]byte(`"` + label + `"`))
	return d
}
