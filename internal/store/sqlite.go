// ABOUTME: SQLite implementation of the ledger Store using modernc.org/sqlite
// ABOUTME: Creates the schema on open and keeps events ordered by insertion

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the ledger at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS collab_events (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id      TEXT NOT NULL UNIQUE,
			session_id    TEXT NOT NULL,
			container_id  TEXT NOT NULL DEFAULT '',
			file_path     TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL,
			user_id       TEXT NOT NULL DEFAULT '',
			version       INTEGER,
			base_version  INTEGER,
			content_bytes INTEGER,
			conflict      INTEGER NOT NULL DEFAULT 0,
			detail        TEXT NOT NULL DEFAULT '',
			ts            TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_collab_events_session ON collab_events(session_id, seq);
		CREATE INDEX IF NOT EXISTS idx_collab_events_file ON collab_events(container_id, file_path, seq);
		CREATE INDEX IF NOT EXISTS idx_collab_events_ts ON collab_events(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveEvent appends a record to the ledger
func (s *SQLiteStore) SaveEvent(ctx context.Context, rec *ActivityRecord) error {
	query := `
		INSERT INTO collab_events (
			event_id, session_id, container_id, file_path, type, user_id,
			version, base_version, content_bytes, conflict, detail, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.ContainerID,
		rec.FilePath,
		rec.Type,
		rec.UserID,
		rec.Version,
		rec.BaseVersion,
		rec.ContentBytes,
		rec.Conflict,
		rec.Detail,
		rec.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// tsLayout is fixed-width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `
	SELECT event_id, session_id, container_id, file_path, type, user_id,
	       version, base_version, content_bytes, conflict, detail, ts
	FROM collab_events
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ActivityRecord, error) {
	rec := &ActivityRecord{}
	var version, baseVersion, contentBytes sql.NullInt64
	var ts string

	if err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.ContainerID,
		&rec.FilePath,
		&rec.Type,
		&rec.UserID,
		&version,
		&baseVersion,
		&contentBytes,
		&rec.Conflict,
		&rec.Detail,
		&ts,
	); err != nil {
		return nil, err
	}

	if version.Valid {
		rec.Version = &version.Int64
	}
	if baseVersion.Valid {
		rec.BaseVersion = &baseVersion.Int64
	}
	if contentBytes.Valid {
		n := int(contentBytes.Int64)
		rec.ContentBytes = &n
	}

	var err error
	rec.Timestamp, err = time.Parse(tsLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return rec, nil
}

// GetEvent retrieves a single record by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*ActivityRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE event_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return rec, nil
}

// ListEventsByFile returns the most recent records for a file across all of
// its sessions, oldest first.
func (s *SQLiteStore) ListEventsByFile(ctx context.Context, containerID, filePath string, limit int) ([]*ActivityRecord, error) {
	query := selectColumns + `
		WHERE seq IN (
			SELECT seq FROM collab_events
			WHERE container_id = ? AND file_path = ?
			ORDER BY seq DESC LIMIT ?
		)
		ORDER BY seq ASC`
	return s.queryRecords(ctx, query, containerID, filePath, clampLimit(limit))
}

// ListEventsBySession returns the most recent records for one session, oldest first.
func (s *SQLiteStore) ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]*ActivityRecord, error) {
	query := selectColumns + `
		WHERE seq IN (
			SELECT seq FROM collab_events
			WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		)
		ORDER BY seq ASC`
	return s.queryRecords(ctx, query, sessionID, clampLimit(limit))
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*ActivityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// PruneBefore deletes records older than cutoff and returns how many were removed.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collab_events WHERE ts < ?`, cutoff.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned ledger events", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
