package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/chorus/internal/event"
)

const eventColumns = "id, project_id, session_id, conversation_id, provider, role, message_type, content, metadata, created_at"

// AppendEvent durably appends ev to the project's log. The unique event id
// makes the append idempotent: re-inserting an already-stored event is a
// no-op, so adapters may retry without duplicating history.
func (db *DB) AppendEvent(ctx context.Context, ev event.Event) error {
	var metadata any
	if ev.Metadata != nil {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metadata = string(encoded)
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ev.ID, ev.ProjectID, ev.SessionID, ev.ConversationID, ev.Provider,
		string(ev.Role), string(ev.Kind), ev.Content, metadata,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns the project's events in append order. A positive limit
// narrows the result to the most recent events, still oldest-first, which is
// what a chat view replays on load.
func (db *DB) ListEvents(ctx context.Context, projectID string, limit int) ([]event.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE project_id = ? ORDER BY seq ASC"
	args := []any{projectID}
	if limit > 0 {
		query = "SELECT " + eventColumns + " FROM (SELECT seq, " + eventColumns +
			" FROM events WHERE project_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func scanEvent(scanner interface{ Scan(...any) error }) (event.Event, error) {
	var (
		ev        event.Event
		role      string
		kind      string
		metadata  sql.NullString
		createdAt string
	)
	err := scanner.Scan(&ev.ID, &ev.ProjectID, &ev.SessionID, &ev.ConversationID,
		&ev.Provider, &role, &kind, &ev.Content, &metadata, &createdAt)
	if err != nil {
		return event.Event{}, fmt.Errorf("failed to scan event: %w", err)
	}

	ev.Role = event.Role(role)
	ev.Kind = event.Kind(kind)

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
			return event.Event{}, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return event.Event{}, fmt.Errorf("failed to parse event timestamp: %w", err)
	}
	ev.CreatedAt = ts

	return ev, nil
}
