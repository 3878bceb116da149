package provider

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zjrosen/chorus/internal/event"
)

func TestParse_ValidNames(t *testing.T) {
	for _, name := range All() {
		parsed, err := Parse(string(name))
		require.NoError(t, err)
		require.Equal(t, name, parsed)
	}
}

func TestParse_UnknownName_ReturnsError(t *testing.T) {
	_, err := Parse("copilot")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAll_DisplayOrder(t *testing.T) {
	require.Equal(t, []Name{Claude, Cursor, Codex, Qwen, Gemini}, All())
}

// stubAdapter is a minimal Adapter for registry tests. It embeds Sessions
// the same way the real adapters do.
type stubAdapter struct {
	*Sessions
	name Name
}

func (a *stubAdapter) Name() Name { return a.name }

func (a *stubAdapter) CheckAvailability(ctx context.Context) Status {
	return Status{Available: true}
}

func (a *stubAdapter) Stream(ctx context.Context, req Request) <-chan event.Event {
	ch := make(chan event.Event)
	close(ch)
	return ch
}

func (a *stubAdapter) SupportedModels() []string { return nil }

func (a *stubAdapter) IsModelSupported(model string) bool { return false }

func TestRegistry_RegisterAndNew(t *testing.T) {
	mock := Name("mock")
	Register(mock, func(deps Deps) Adapter {
		return &stubAdapter{name: mock, Sessions: NewSessions(mock, deps.Sessions)}
	})

	require.True(t, IsRegistered(mock))

	adapter, err := New(mock, Deps{})
	require.NoError(t, err)
	require.Equal(t, mock, adapter.Name())
}

func TestRegistry_New_Unregistered_ReturnsError(t *testing.T) {
	_, err := New(Name("nope"), Deps{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

// fakeSessionStore records calls so cache behavior is observable.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]string
	hints    map[string]string
	getCalls int
	failSet  bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]string),
		hints:    make(map[string]string),
	}
}

func (s *fakeSessionStore) GetSession(ctx context.Context, projectID, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	return s.sessions[projectID+"/"+provider], nil
}

func (s *fakeSessionStore) SetSession(ctx context.Context, projectID, provider, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return fmt.Errorf("store unavailable")
	}
	s.sessions[projectID+"/"+provider] = sessionID
	return nil
}

func (s *fakeSessionStore) GetResumeHint(ctx context.Context, projectID, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hints[projectID+"/"+provider], nil
}

func (s *fakeSessionStore) SetResumeHint(ctx context.Context, projectID, provider, hint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[projectID+"/"+provider] = hint
	return nil
}

func TestSessions_WriteThroughAndCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	sessions := NewSessions(Claude, store)

	require.NoError(t, sessions.SetSessionID(ctx, "proj-1", "sess-abc"))

	// Store has the value
	require.Equal(t, "sess-abc", store.sessions["proj-1/claude"])

	// Reads come from the cache, not the store
	before := store.getCalls
	id, err := sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, "sess-abc", id)
	require.Equal(t, before, store.getCalls)
}

func TestSessions_ColdReadHitsStoreOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	store.sessions["proj-1/claude"] = "persisted"
	sessions := NewSessions(Claude, store)

	id, err := sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, "persisted", id)
	require.Equal(t, 1, store.getCalls)

	// Second read is cached
	id, err = sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, "persisted", id)
	require.Equal(t, 1, store.getCalls)
}

func TestSessions_ProjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	sessions := NewSessions(Qwen, store)

	require.NoError(t, sessions.SetSessionID(ctx, "proj-1", "sess-1"))
	require.NoError(t, sessions.SetSessionID(ctx, "proj-2", "sess-2"))

	id1, err := sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	id2, err := sessions.GetSessionID(ctx, "proj-2")
	require.NoError(t, err)
	require.Equal(t, "sess-1", id1)
	require.Equal(t, "sess-2", id2)
}

func TestSessions_StoreFailure_KeepsCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	store.failSet = true
	sessions := NewSessions(Gemini, store)

	err := sessions.SetSessionID(ctx, "proj-1", "sess-x")
	require.Error(t, err)

	// The in-memory cache still serves the session for this process
	id, getErr := sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, getErr)
	require.Equal(t, "sess-x", id)
}

func TestSessions_NilStore_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessions(Cursor, nil)

	id, err := sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	require.Empty(t, id)

	require.NoError(t, sessions.SetSessionID(ctx, "proj-1", "sess-mem"))

	id, err = sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, "sess-mem", id)
}

func TestSessions_Clear_ForcesFreshSession(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessions(Qwen, nil)

	require.NoError(t, sessions.SetSessionID(ctx, "proj-1", "stale"))
	sessions.ClearSessionID("proj-1")

	id, err := sessions.GetSessionID(ctx, "proj-1")
	require.NoError(t, err)
	require.Empty(t, id)
}
