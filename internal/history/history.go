// Package history keeps a SQLite log of firmware uploads.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CK6170/propeller-loader/update"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id    TEXT    NOT NULL,
	device      TEXT    NOT NULL,
	port        TEXT    NOT NULL,
	mac         TEXT    NOT NULL DEFAULT '',
	firmware    TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	write_flash INTEGER NOT NULL,
	started_ms  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	error       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS uploads_batch ON uploads(batch_id);
`

// Entry is one stored upload.
type Entry struct {
	ID         int64         `json:"id"`
	BatchID    string        `json:"batchId"`
	Device     string        `json:"device"`
	Port       string        `json:"port"`
	MAC        string        `json:"mac,omitempty"`
	Firmware   string        `json:"firmware"`
	Version    int           `json:"version"`
	WriteFlash bool          `json:"writeFlash"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// Store is a SQLite upload log. It implements update.Recorder.
type Store struct {
	db *sql.DB
}

var _ update.Recorder = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one result.
func (s *Store) Record(ctx context.Context, r update.Result) error {
	status := r.Device.Status.String()
	if r.Cancelled {
		status = "cancelled"
	} else if r.Err != nil {
		status = "error"
	} else if status == "none" {
		status = "ok"
	}
	errText := r.Error
	if errText == "" && r.Err != nil {
		errText = r.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (batch_id, device, port, mac, firmware, version, write_flash,
			started_ms, duration_ms, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.Device.Name, r.Device.PortDescription(), r.Device.MAC, r.Firmware, r.Version,
		r.WriteFlash, r.Started.UnixMilli(), r.Duration.Milliseconds(), status, errText)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT id, batch_id, device, port, mac, firmware, version, write_flash,
		started_ms, duration_ms, status, error FROM uploads ORDER BY id DESC LIMIT ?`, limit)
}

// Batch returns the entries of one update run in upload order.
func (s *Store) Batch(ctx context.Context, batchID string) ([]Entry, error) {
	return s.query(ctx, `SELECT id, batch_id, device, port, mac, firmware, version, write_flash,
		started_ms, duration_ms, status, error FROM uploads WHERE batch_id = ? ORDER BY id`, batchID)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e                   Entry
			startedMs, duration int64
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Device, &e.Port, &e.MAC, &e.Firmware, &e.Version,
			&e.WriteFlash, &startedMs, &duration, &e.Status, &e.Error); err != nil {
			return nil, err
		}
		e.Started = time.UnixMilli(startedMs)
		e.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
