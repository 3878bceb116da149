// Package store persists orchestration state in SQLite: the per-project
// event log, provider session handles, and turn records. One database file
// serves all projects; WAL mode keeps concurrent turns from blocking each
// other.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/chorus/internal/event"
)

// ErrNotFound reports a row that does not exist.
var ErrNotFound = errors.New("not found")

// Turn statuses.
const (
	TurnActive    = "active"
	TurnCompleted = "completed"
	TurnFailed    = "failed"
)

// Turn records one instruction execution against a provider.
type Turn struct {
	ID          string
	ProjectID   string
	Provider    string
	Model       string
	Instruction string
	Status      string
	EventCount  int
	HasChanges  bool
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Store is the persistence surface consumed by the orchestration manager.
// *DB is the SQLite implementation.
type Store interface {
	// AppendEvent durably appends an event. Appends are ordered per
	// project and idempotent on the event id.
	AppendEvent(ctx context.Context, ev event.Event) error

	// ListEvents returns a project's events in append order. A positive
	// limit returns only the most recent events (still oldest-first).
	ListEvents(ctx context.Context, projectID string, limit int) ([]event.Event, error)

	// GetSession returns the stored provider session id, empty when none.
	GetSession(ctx context.Context, projectID, provider string) (string, error)
	// SetSession upserts the provider session id for a project.
	SetSession(ctx context.Context, projectID, provider, sessionID string) error
	// GetResumeHint returns provider-private resume state, empty when none.
	GetResumeHint(ctx context.Context, projectID, provider string) (string, error)
	// SetResumeHint upserts provider-private resume state.
	SetResumeHint(ctx context.Context, projectID, provider, hint string) error

	// CreateTurn inserts a turn row in the active state.
	CreateTurn(ctx context.Context, t Turn) error
	// FinishTurn finalizes a turn with its outcome.
	FinishTurn(ctx context.Context, id, status string, eventCount int, hasChanges bool, errMsg string) error
	// ListTurns returns a project's turns, newest first.
	ListTurns(ctx context.Context, projectID string, limit int) ([]Turn, error)

	// ListRepoFiles returns sorted relative paths under the project's
	// repo directory for initial-prompt context injection.
	ListRepoFiles(projectPath string) ([]string, error)

	// Close releases the underlying database connection.
	Close() error
}
