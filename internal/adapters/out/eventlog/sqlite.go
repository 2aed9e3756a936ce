// Package eventlog records artifact mutations in a SQLite database.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/artifactd/artifactd/internal/boundaries/out"
)

// SQLiteLog implements the event log on SQLite. Use ":memory:" for an
// in-memory database, or a file path for persistent storage.
type SQLiteLog struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and initializes, if needed) the event log database.
func New(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event log database: %w", err)
	}

	log := &SQLiteLog{db: db}
	if err := log.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize event log schema: %w", err)
	}
	return log, nil
}

func (l *SQLiteLog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifact_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		storage_id TEXT NOT NULL,
		repository_id TEXT NOT NULL,
		path TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifact_events_timestamp ON artifact_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_artifact_events_path ON artifact_events(storage_id, repository_id, path);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append records one artifact event.
func (l *SQLiteLog) Append(ctx context.Context, event out.ArtifactEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO artifact_events (storage_id, repository_id, path, event_type, timestamp) VALUES (?, ?, ?, ?, ?)",
		event.StorageID, event.RepositoryID, event.Path, event.Type, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert artifact event: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]out.ArtifactEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx,
		"SELECT id, storage_id, repository_id, path, event_type, timestamp FROM artifact_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifact events: %w", err)
	}
	defer rows.Close()

	var events []out.ArtifactEvent
	for rows.Next() {
		var e out.ArtifactEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.StorageID, &e.RepositoryID, &e.Path, &e.Type, &ts); err != nil {
			return nil, fmt.Errorf("scan artifact event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
