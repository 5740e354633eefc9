// Package audit is an ambient, write-only operational record of commands
// dispatched and events emitted. It is never read back to reconstruct
// registry or credential-store state (SPEC_FULL §6.4 holds regardless);
// it exists purely for operator forensics, mirroring the teacher's
// internal/policy.Storage audit_log table.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/swavlamban/extsockd/internal/apperrors"
)

// Store is the sqlite-backed audit sink.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the database directory and file at path and
// ensures the audit_log table exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", apperrors.ErrAllocationFailure, dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperrors.ErrAllocationFailure, path, err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at DATETIME NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema: %v", apperrors.ErrAllocationFailure, err)
	}

	return &Store{db: db}, nil
}

// LogCommand records a dispatched control-channel command. Implements
// command.AuditSink.
func (s *Store) LogCommand(verb, detail string) {
	s.insert("command", verb, detail)
}

// LogEvent records an emitted lifecycle event payload. The daemon's event
// fan-out calls it alongside the control channel; Store does not itself
// implement events.Publisher.
func (s *Store) LogEvent(eventName string, payload []byte) {
	s.insert("event", eventName, string(payload))
}

func (s *Store) insert(kind, name, detail string) {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, at, kind, name, detail) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), time.Now().UTC(), kind, name, detail,
	)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Str("name", name).Msg("audit insert failed")
	}
}

// Entry is one row of the audit log, for the status API.
type Entry struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	Detail string    `json:"detail"`
}

// Recent returns the most recent n audit entries, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, at, kind, name, detail FROM audit_log ORDER BY at DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Kind, &e.Name, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
