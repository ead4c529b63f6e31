// Package history persists the per-task event log. Branch memory ("has this
// edit source ever been observed") and the run listing are derived from it,
// so the log survives observer remounts instead of living only in memory.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"planview/pkg/stream"
)

// timeLayout is fixed-width (nanoseconds never trimmed, UTC only), so stored
// timestamps order correctly under SQLite's byte-wise text comparison.
// RFC3339Nano would not: it strips trailing zeros, and ".5Z" sorts after
// ".51Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store handles event-log persistence.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		type TEXT NOT NULL,
		item_id TEXT DEFAULT '',
		step TEXT DEFAULT '',
		edit_source TEXT DEFAULT '',
		message TEXT DEFAULT '',
		task_status TEXT DEFAULT '',
		received_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
	CREATE INDEX IF NOT EXISTS idx_events_task_source ON events(task_id, edit_source);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one received event.
func (s *Store) Append(taskID string, ev stream.Event) error {
	return s.appendAt(taskID, ev, time.Now())
}

func (s *Store) appendAt(taskID string, ev stream.Event, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO events (task_id, type, item_id, step, edit_source, message, task_status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, taskID, string(ev.Type), ev.ItemID, ev.Step, ev.EditSource, ev.Message, ev.TaskStatus,
		at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns the logged events for a task in receipt order.
func (s *Store) Events(taskID string) ([]stream.Event, error) {
	rows, err := s.db.Query(`
		SELECT type, item_id, step, edit_source, message, task_status
		FROM events WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []stream.Event
	for rows.Next() {
		var ev stream.Event
		var typ string
		if err := rows.Scan(&typ, &ev.ItemID, &ev.Step, &ev.EditSource, &ev.Message, &ev.TaskStatus); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = stream.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// BranchSeen reports whether any logged event for the task carried the given
// edit source.
func (s *Store) BranchSeen(taskID, editSource string) (bool, error) {
	if editSource == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM events WHERE task_id = ? AND edit_source = ? LIMIT 1
	`, taskID, editSource).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query branch: %w", err)
	}
	return n > 0, nil
}

// TaskRun summarizes one task's logged history.
type TaskRun struct {
	TaskID     string
	EventCount int
	LastEvent  time.Time
}

// Tasks lists logged tasks, most recent first.
func (s *Store) Tasks() ([]TaskRun, error) {
	rows, err := s.db.Query(`
		SELECT task_id, COUNT(1), MAX(received_at)
		FROM events GROUP BY task_id ORDER BY MAX(received_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		var run TaskRun
		var last string
		if err := rows.Scan(&run.TaskID, &run.EventCount, &last); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if ts, err := time.Parse(timeLayout, last); err == nil {
			run.LastEvent = ts
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Prune deletes logged events for tasks whose last event is older than
// keepFor.
func (s *Store) Prune(keepFor time.Duration) error {
	// timeLayout is fixed-width, so the cutoff compares correctly as text.
	cutoff := time.Now().UTC().Add(-keepFor).Format(timeLayout)
	_, err := s.db.Exec(`
		DELETE FROM events WHERE task_id IN (
			SELECT task_id FROM events GROUP BY task_id HAVING MAX(received_at) < ?
		)
	`, cutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}
