package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/provider"
)

// stubAdapter counts probes and returns a fixed status.
type stubAdapter struct {
	name   provider.Name
	status provider.Status

	mu     sync.Mutex
	probes int
}

func (s *stubAdapter) Name() provider.Name { return s.name }

func (s *stubAdapter) CheckAvailability(ctx context.Context) provider.Status {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()
	return s.status
}

func (s *stubAdapter) Stream(ctx context.Context, req provider.Request) <-chan event.Event {
	ch := make(chan event.Event)
	close(ch)
	return ch
}

func (s *stubAdapter) GetSessionID(ctx context.Context, projectID string) (string, error) {
	return "", nil
}

func (s *stubAdapter) SetSessionID(ctx context.Context, projectID, sessionID string) error {
	return nil
}

func (s *stubAdapter) SupportedModels() []string { return nil }

func (s *stubAdapter) IsModelSupported(model string) bool { return false }

func (s *stubAdapter) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

func TestChecker_CachesProbeResult(t *testing.T) {
	adapter := &stubAdapter{
		name:   provider.Claude,
		status: provider.Status{Available: true, Version: "1.2.3"},
	}
	checker := NewChecker(time.Minute)

	first := checker.Check(context.Background(), adapter)
	second := checker.Check(context.Background(), adapter)

	require.True(t, first.Available)
	require.Equal(t, first, second)
	require.Equal(t, 1, adapter.probeCount())
}

func TestChecker_CachesUnavailableResult(t *testing.T) {
	adapter := &stubAdapter{
		name:   provider.Codex,
		status: provider.Status{Available: false, Error: "codex CLI not found"},
	}
	checker := NewChecker(time.Minute)

	checker.Check(context.Background(), adapter)
	got := checker.Check(context.Background(), adapter)

	require.False(t, got.Available)
	require.Equal(t, "codex CLI not found", got.Error)
	require.Equal(t, 1, adapter.probeCount())
}

func TestChecker_ZeroTTLDisablesCache(t *testing.T) {
	adapter := &stubAdapter{
		name:   provider.Claude,
		status: provider.Status{Available: true},
	}
	checker := NewChecker(0)

	checker.Check(context.Background(), adapter)
	checker.Check(context.Background(), adapter)

	require.Equal(t, 2, adapter.probeCount())
}

func TestChecker_ExpiredEntryReprobes(t *testing.T) {
	adapter := &stubAdapter{
		name:   provider.Gemini,
		status: provider.Status{Available: true},
	}
	checker := NewChecker(15 * time.Millisecond)

	checker.Check(context.Background(), adapter)
	time.Sleep(30 * time.Millisecond)
	checker.Check(context.Background(), adapter)

	require.Equal(t, 2, adapter.probeCount())
}

func TestChecker_InvalidateForcesReprobe(t *testing.T) {
	adapter := &stubAdapter{
		name:   provider.Qwen,
		status: provider.Status{Available: false, Error: "qwen CLI not found"},
	}
	checker := NewChecker(time.Minute)

	checker.Check(context.Background(), adapter)
	checker.Invalidate(provider.Qwen)
	checker.Check(context.Background(), adapter)

	require.Equal(t, 2, adapter.probeCount())
}

func TestChecker_CheckAll(t *testing.T) {
	adapters := []provider.Adapter{
		&stubAdapter{name: provider.Claude, status: provider.Status{Available: true, Version: "2.0"}},
		&stubAdapter{name: provider.Cursor, status: provider.Status{Available: true}},
		&stubAdapter{name: provider.Codex, status: provider.Status{Available: false, Error: "codex CLI not found"}},
	}
	checker := NewChecker(time.Minute)

	statuses := checker.CheckAll(context.Background(), adapters)

	require.Len(t, statuses, 3)
	require.True(t, statuses[provider.Claude].Available)
	require.Equal(t, "2.0", statuses[provider.Claude].Version)
	require.True(t, statuses[provider.Cursor].Available)
	require.False(t, statuses[provider.Codex].Available)
}

func TestChecker_CheckAll_ServesCachedEntries(t *testing.T) {
	adapter := &stubAdapter{
		name:   provider.Claude,
		status: provider.Status{Available: true},
	}
	checker := NewChecker(time.Minute)

	checker.CheckAll(context.Background(), []provider.Adapter{adapter})
	checker.CheckAll(context.Background(), []provider.Adapter{adapter})

	require.Equal(t, 1, adapter.probeCount())
}

func TestChecker_CheckAll_Empty(t *testing.T) {
	checker := NewChecker(time.Minute)

	statuses := checker.CheckAll(context.Background(), nil)

	require.NotNil(t, statuses)
	require.Empty(t, statuses)
}
