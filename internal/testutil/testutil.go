// Package testutil provides shared test helpers: a throwaway sqlite store
// and a scripted command factory for driving provider adapters without the
// real CLIs.
package testutil

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chorus/internal/provider/process"
	"github.com/zjrosen/chorus/internal/store"
)

// NewStore opens a fully migrated store in a temp directory, closed on test
// cleanup.
func NewStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "NewDB should succeed")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// ScriptFactory returns a command factory that runs the given shell script
// instead of the requested executable. The script plays the CLI's part:
// canned stdout lines, scripted stdin handling, chosen exit codes.
func ScriptFactory(script string) process.CommandFactoryFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
}
