package provider

import (
	"context"
	"sync"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider/process"
)

// Request describes one instruction turn for a provider.
type Request struct {
	// ProjectID identifies the project for event stamping and session lookup.
	ProjectID string
	// ProjectPath is the project root on disk. Agents run in
	// <ProjectPath>/repo when it exists.
	ProjectPath string
	// SessionID optionally pins the provider session to resume.
	// When empty, the stored session for (project, provider) is used.
	SessionID string
	// ConversationID stamps emitted events for UI grouping.
	ConversationID string
	// Instruction is the user's prompt text.
	Instruction string
	// Images are optional attachments; text-only providers ignore them.
	Images []Image
	// Model is the requested model alias; resolved per provider.
	Model string
	// IsInitialPrompt marks the first instruction of a project, which
	// enables repo-context injection and planning-tool restrictions.
	IsInitialPrompt bool
}

// Image is one attachment on a request. Exactly one of Path, Base64, or URL
// is expected to be set; MimeType is advisory.
type Image struct {
	Path     string
	Base64   string
	MimeType string
	URL      string
}

// Status reports the result of an availability probe.
type Status struct {
	// Available is true when the provider CLI responded to its probe.
	Available bool
	// Configured is true when the CLI is installed and operable; false
	// distinguishes a missing or broken install from a transient failure.
	Configured bool
	// Version is the probed CLI version, when the probe reports one.
	Version string
	// Error describes why the provider is unavailable, including install
	// guidance when the binary is missing.
	Error string
	// Models lists every alias and native name the provider accepts.
	Models []string
	// DefaultModels lists models to offer when none is configured.
	DefaultModels []string
}

// Adapter is the contract every provider integration implements.
//
// Stream is lazy, finite, and not restartable: it yields exactly one
// terminal event (result or error) and then closes the channel. Spawn
// failures surface as in-stream error events rather than panics or nil
// channels, so the manager always has a stream to drain.
type Adapter interface {
	// Name returns the provider name.
	Name() Name

	// CheckAvailability probes the provider CLI. It is side-effect-free
	// and safe to call concurrently.
	CheckAvailability(ctx context.Context) Status

	// Stream runs one instruction turn and emits normalized events.
	Stream(ctx context.Context, req Request) <-chan event.Event

	// GetSessionID returns the active session for a project, consulting
	// the in-memory cache first and then the store. Empty when none.
	GetSessionID(ctx context.Context, projectID string) (string, error)

	// SetSessionID records the active session for a project in memory
	// and in the store.
	SetSessionID(ctx context.Context, projectID, sessionID string) error

	// SupportedModels lists every model alias and native name this
	// provider accepts.
	SupportedModels() []string

	// IsModelSupported reports whether the given model is usable here.
	IsModelSupported(model string) bool
}

// SessionStore is the narrow persistence surface adapters need.
// The full implementation lives in internal/store.
type SessionStore interface {
	// GetSession returns the stored session id, empty when none.
	GetSession(ctx context.Context, projectID, provider string) (string, error)
	// SetSession upserts the session id for (project, provider).
	SetSession(ctx context.Context, projectID, provider, sessionID string) error
	// GetResumeHint returns provider-private resume state (codex rollout
	// paths), empty when none.
	GetResumeHint(ctx context.Context, projectID, provider string) (string, error)
	// SetResumeHint upserts provider-private resume state.
	SetResumeHint(ctx context.Context, projectID, provider, hint string) error
}

// RepoLister enumerates project repo files for initial-prompt context.
type RepoLister interface {
	ListRepoFiles(projectPath string) ([]string, error)
}

// Deps carries shared dependencies into adapter factories.
// Zero-value fields are tolerated: a nil Sessions keeps sessions in memory
// only, a nil Repo skips repo-context injection.
type Deps struct {
	Sessions       SessionStore
	Repo           RepoLister
	SystemPrompt   string
	CommandFactory process.CommandFactoryFunc
}

// Sessions caches per-project session ids in memory and writes through to
// the store. Adapters embed it to satisfy the session half of Adapter.
type Sessions struct {
	provider Name
	store    SessionStore

	mu    sync.RWMutex
	cache map[string]string
}

// NewSessions creates a session tracker for the given provider.
// store may be nil, in which case sessions live in memory only.
func NewSessions(provider Name, store SessionStore) *Sessions {
	return &Sessions{
		provider: provider,
		store:    store,
		cache:    make(map[string]string),
	}
}

// GetSessionID returns the session for a project: cache first, then store.
// Store hits are cached for subsequent turns.
func (s *Sessions) GetSessionID(ctx context.Context, projectID string) (string, error) {
	s.mu.RLock()
	id, ok := s.cache[projectID]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	if s.store == nil {
		return "", nil
	}

	id, err := s.store.GetSession(ctx, projectID, string(s.provider))
	if err != nil {
		return "", err
	}
	if id != "" {
		s.mu.Lock()
		s.cache[projectID] = id
		s.mu.Unlock()
	}
	return id, nil
}

// SetSessionID records the session in memory and writes through to the
// store. The cache is updated even when the store write fails so the
// current process keeps resuming correctly.
func (s *Sessions) SetSessionID(ctx context.Context, projectID, sessionID string) error {
	s.mu.Lock()
	s.cache[projectID] = sessionID
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.SetSession(ctx, projectID, string(s.provider), sessionID); err != nil {
		log.Warn(log.CatProvider, "failed to persist session",
			"provider", s.provider, "projectID", projectID, "error", err)
		return err
	}
	return nil
}

// ClearSessionID drops the cached session for a project, forcing the next
// turn to start a fresh provider session.
func (s *Sessions) ClearSessionID(projectID string) {
	s.mu.Lock()
	delete(s.cache, projectID)
	s.mu.Unlock()
}
