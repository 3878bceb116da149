package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSession returns the stored session id for a project/provider pair.
// No stored session is not an error; the caller gets an empty string.
func (db *DB) GetSession(ctx context.Context, projectID, provider string) (string, error) {
	var sessionID string
	err := db.conn.QueryRowContext(ctx,
		"SELECT session_id FROM provider_sessions WHERE project_id = ? AND provider = ?",
		projectID, provider).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	return sessionID, nil
}

// SetSession upserts the session id for a project/provider pair. Any stored
// resume hint is left untouched.
func (db *DB) SetSession(ctx context.Context, projectID, provider, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO provider_sessions (project_id, provider, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, provider) DO UPDATE SET
		   session_id = excluded.session_id,
		   updated_at = excluded.updated_at`,
		projectID, provider, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// GetResumeHint returns provider-private resume state for a project, empty
// when none is stored.
func (db *DB) GetResumeHint(ctx context.Context, projectID, provider string) (string, error) {
	var hint string
	err := db.conn.QueryRowContext(ctx,
		"SELECT resume_hint FROM provider_sessions WHERE project_id = ? AND provider = ?",
		projectID, provider).Scan(&hint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get resume hint: %w", err)
	}
	return hint, nil
}

// SetResumeHint upserts provider-private resume state for a project. The
// stored session id is left untouched.
func (db *DB) SetResumeHint(ctx context.Context, projectID, provider, hint string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO provider_sessions (project_id, provider, resume_hint, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, provider) DO UPDATE SET
		   resume_hint = excluded.resume_hint,
		   updated_at = excluded.updated_at`,
		projectID, provider, hint, now, now)
	if err != nil {
		return fmt.Errorf("failed to set resume hint: %w", err)
	}
	return nil
}
