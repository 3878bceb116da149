package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const turnColumns = "id, project_id, provider, model, instruction, status, event_count, has_changes, error, started_at, completed_at"

// CreateTurn inserts a turn row. A zero StartedAt is stamped with the
// current time; an empty Status starts the turn as active.
func (db *DB) CreateTurn(ctx context.Context, t Turn) error {
	if t.Status == "" {
		t.Status = TurnActive
	}
	startedAt := t.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO turns ("+turnColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.ProjectID, t.Provider, t.Model, t.Instruction, t.Status,
		t.EventCount, t.HasChanges, t.Error,
		startedAt.UTC().Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("failed to create turn: %w", err)
	}
	return nil
}

// FinishTurn finalizes a turn with its outcome and completion time.
func (db *DB) FinishTurn(ctx context.Context, id, status string, eventCount int, hasChanges bool, errMsg string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE turns SET status = ?, event_count = ?, has_changes = ?, error = ?, completed_at = ? WHERE id = ?",
		status, eventCount, hasChanges, errMsg,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to finish turn: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish turn: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("turn %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTurns returns a project's turns newest-first. A positive limit caps
// the result.
func (db *DB) ListTurns(ctx context.Context, projectID string, limit int) ([]Turn, error) {
	query := "SELECT " + turnColumns + " FROM turns WHERE project_id = ? ORDER BY started_at DESC, id DESC"
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

func scanTurn(scanner interface{ Scan(...any) error }) (Turn, error) {
	var (
		t           Turn
		startedAt   string
		completedAt sql.NullString
	)
	err := scanner.Scan(&t.ID, &t.ProjectID, &t.Provider, &t.Model, &t.Instruction,
		&t.Status, &t.EventCount, &t.HasChanges, &t.Error, &startedAt, &completedAt)
	if err != nil {
		return Turn{}, fmt.Errorf("failed to scan turn: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Turn{}, fmt.Errorf("failed to parse turn timestamp: %w", err)
	}
	t.StartedAt = ts

	if completedAt.Valid && completedAt.String != "" {
		done, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return Turn{}, fmt.Errorf("failed to parse turn timestamp: %w", err)
		}
		t.CompletedAt = &done
	}

	return t, nil
}
