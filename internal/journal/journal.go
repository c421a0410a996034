// Package journal persists a local audit trail of processed webhook events
// and reconciliation outcomes to SQLite.
//
// The journal is advisory: writes that fail are logged and dropped, never
// surfaced to the event path.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Schema for the events table. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	phone TEXT,
	detail TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_phone ON events(phone) WHERE phone != '';
`

// Event kinds recorded by the service.
const (
	KindCounted = "counted" // a call end entered the pending buffer
	KindDropped = "dropped" // a webhook event was discarded, detail says why
	KindLocked  = "locked"  // a lead row was hidden
	KindSwept   = "swept"   // a lead row was unhidden
	KindError   = "error"   // a periodic task failed
)

// Entry is one journal row.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Phone     string    `json:"phone,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Journal is the SQLite-backed event trail.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the journal database at path, applies the
// production pragmas and the schema. An empty path opens an in-memory
// database, useful in tests.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dsn, err)
	}
	if path == "" {
		// Each pooled connection to :memory: would get its own database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

// Record inserts one entry. Failures are logged, not returned: the journal
// must never break the event path.
func (j *Journal) Record(ctx context.Context, kind, phone, detail string) {
	id := "evt_" + uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, phone, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, phone, detail, j.now().UnixMilli())
	if err != nil {
		j.logger.Error("journal: insert failed", "kind", kind, "error", err)
	}
}

// Recent returns the newest entries, capped at limit (default 100, max 1000).
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, phone, detail, created_at FROM events ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Phone, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than the retention window and returns the
// number removed. retentionDays <= 0 disables cleanup.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
