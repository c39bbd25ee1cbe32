// Package uploadlog provides PostgreSQL-backed audit storage for completed
// uploads. Each row captures which session uploaded what, where it landed,
// and how big it was. The log is write-mostly; support staff query it when
// a user disputes a missing or wrong profile image.
package uploadlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store manages the uploads audit table in PostgreSQL. A nil Store is
// valid and drops every write, which is how deployments without a
// database run.
type Store struct {
	db *sql.DB
}

// Entry represents one completed upload to be persisted.
type Entry struct {
	SessionID string // empty for uploads made without a session
	PublicID  string
	URL       string
	Backend   string // "cloudinary", "s3", "local"
	Folder    string
	Bytes     int64
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an upload entry.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if s == nil || s.db == nil {
		return nil
	}

	const query = `
		INSERT INTO uploads (session_id, public_id, url, backend, folder, bytes)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		e.SessionID,
		e.PublicID,
		e.URL,
		e.Backend,
		e.Folder,
		e.Bytes,
	)
	if err != nil {
		return fmt.Errorf("uploadlog: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of uploads recorded for a session within
// the given time window. Abuse tooling uses this to spot sessions that
// churn through uploads.
func (s *Store) CountRecent(ctx context.Context, sessionID string, window time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}

	const query = `
		SELECT COUNT(*)
		FROM uploads
		WHERE session_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, sessionID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("uploadlog: count recent: %w", err)
	}
	return count, nil
}

// LastURL returns the most recently recorded URL for a session, or
// ("", nil) when the session has no uploads on record.
func (s *Store) LastURL(ctx context.Context, sessionID string) (string, error) {
	if s == nil || s.db == nil {
		return "", nil
	}

	const query = `
		SELECT url
		FROM uploads
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var url string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&url)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("uploadlog: last url: %w", err)
	}
	return url, nil
}
