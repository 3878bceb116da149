package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chorus/internal/event"
)

func testEvent(projectID, content string) event.Event {
	ev := event.New("claude", "sess-1", event.RoleAssistant, event.KindChat, content, nil)
	ev.ProjectID = projectID
	return ev
}

// TestAppendEvent_RoundTripsAllFields verifies that every field survives a
// write and read through the database.
func TestAppendEvent_RoundTripsAllFields(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ev := event.New("codex", "sess-9", event.RoleAssistant, event.KindToolUse, "**Read** `main.go`", event.Metadata{
		event.MetaToolName:  "Read",
		event.MetaToolInput: map[string]any{"file_path": "main.go"},
		event.MetaHidden:    false,
	})
	ev.ProjectID = "proj-1"
	ev.ConversationID = "conv-1"

	require.NoError(t, db.AppendEvent(ctx, ev))

	events, err := db.ListEvents(ctx, "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, "proj-1", got.ProjectID)
	require.Equal(t, "sess-9", got.SessionID)
	require.Equal(t, "conv-1", got.ConversationID)
	require.Equal(t, "codex", got.Provider)
	require.Equal(t, event.RoleAssistant, got.Role)
	require.Equal(t, event.KindToolUse, got.Kind)
	require.Equal(t, "**Read** `main.go`", got.Content)
	require.Equal(t, "Read", got.Metadata.ToolName())
	require.Equal(t, false, got.Metadata.Hidden())
	require.True(t, ev.CreatedAt.Equal(got.CreatedAt), "timestamp should round-trip exactly")
}

// TestAppendEvent_IdempotentOnID verifies that re-appending an event with the
// same id does not duplicate it.
func TestAppendEvent_IdempotentOnID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ev := testEvent("proj-1", "hello")
	require.NoError(t, db.AppendEvent(ctx, ev))
	require.NoError(t, db.AppendEvent(ctx, ev))
	require.NoError(t, db.AppendEvent(ctx, ev))

	events, err := db.ListEvents(ctx, "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1, "duplicate appends should be ignored")
}

// TestAppendEvent_NilMetadata verifies that an event without metadata stores
// and reads back cleanly.
func TestAppendEvent_NilMetadata(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ev := testEvent("proj-1", "bare")
	ev.Metadata = nil
	require.NoError(t, db.AppendEvent(ctx, ev))

	events, err := db.ListEvents(ctx, "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].Metadata)
}

// TestListEvents_AppendOrder verifies that events come back in the order
// they were appended, even when timestamps collide.
func TestListEvents_AppendOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	var ids []string
	for _, content := range []string{"first", "second", "third"} {
		ev := testEvent("proj-1", content)
		ev.CreatedAt = now // identical timestamps, order must still hold
		ids = append(ids, ev.ID)
		require.NoError(t, db.AppendEvent(ctx, ev))
	}

	events, err := db.ListEvents(ctx, "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, ids[i], ev.ID, "event %d should hold its append position", i)
	}
	require.Equal(t, "first", events[0].Content)
	require.Equal(t, "third", events[2].Content)
}

// TestListEvents_ScopedToProject verifies that projects never see each
// other's events.
func TestListEvents_ScopedToProject(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AppendEvent(ctx, testEvent("proj-a", "for a")))
	require.NoError(t, db.AppendEvent(ctx, testEvent("proj-b", "for b")))
	require.NoError(t, db.AppendEvent(ctx, testEvent("proj-a", "also for a")))

	eventsA, err := db.ListEvents(ctx, "proj-a", 0)
	require.NoError(t, err)
	require.Len(t, eventsA, 2)

	eventsB, err := db.ListEvents(ctx, "proj-b", 0)
	require.NoError(t, err)
	require.Len(t, eventsB, 1)
	require.Equal(t, "for b", eventsB[0].Content)
}

// TestListEvents_LimitReturnsMostRecent verifies that a limit keeps the tail
// of the log, oldest-first.
func TestListEvents_LimitReturnsMostRecent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, db.AppendEvent(ctx, testEvent("proj-1", content)))
	}

	events, err := db.ListEvents(ctx, "proj-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "four", events[0].Content)
	require.Equal(t, "five", events[1].Content)
}

// TestListEvents_EmptyProject verifies that an unknown project yields no
// events and no error.
func TestListEvents_EmptyProject(t *testing.T) {
	db := newTestDB(t)

	events, err := db.ListEvents(context.Background(), "no-such-project", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
