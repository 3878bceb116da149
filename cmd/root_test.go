package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Flag values persist across Execute calls; reset between tests.
	modelsProvider = ""
	modelsCheck = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestModelsListsEveryProvider(t *testing.T) {
	out, err := execute(t, "models")
	require.NoError(t, err)

	for _, name := range []string{"claude:", "cursor:", "codex:", "qwen:", "gemini:"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "claude-sonnet-4-20250514")
}

func TestModelsProviderFilter(t *testing.T) {
	out, err := execute(t, "models", "--provider", "qwen")
	require.NoError(t, err)

	assert.Contains(t, out, "qwen:")
	assert.NotContains(t, out, "claude:")
	assert.Contains(t, out, "qwen-coder")
}

func TestModelsUnknownProvider(t *testing.T) {
	_, err := execute(t, "models", "--provider", "copilot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestModelsValidateKnownAlias(t *testing.T) {
	out, err := execute(t, "models", "--provider", "claude", "--model", "sonnet-4")
	require.NoError(t, err)
	assert.Contains(t, out, "sonnet-4 -> claude-sonnet-4-20250514")
}

func TestModelsValidateUnknownModel(t *testing.T) {
	out, err := execute(t, "models", "--provider", "gemini", "--model", "gpt-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported model")
	assert.Contains(t, out, "gemini accepts:")
}

func TestRootHasCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["status"])
	assert.True(t, names["models"])
}
