// Package provider defines the contract between the orchestration manager
// and the coding agent CLIs (claude, cursor, codex, qwen, gemini).
//
// Each agent integration lives in its own subpackage and registers a factory
// here. Adapters normalize wildly different wire protocols into the shared
// event model: the manager consumes one event stream regardless of which
// agent produced it.
package provider

import (
	"fmt"
)

// Name identifies a coding agent provider.
type Name string

const (
	// Claude is the Claude Code CLI.
	Claude Name = "claude"
	// Cursor is the Cursor Agent CLI.
	Cursor Name = "cursor"
	// Codex is the OpenAI Codex CLI.
	Codex Name = "codex"
	// Qwen is the Qwen Code CLI.
	Qwen Name = "qwen"
	// Gemini is the Gemini CLI.
	Gemini Name = "gemini"
)

// All returns the known provider names in display order.
func All() []Name {
	return []Name{Claude, Cursor, Codex, Qwen, Gemini}
}

// Valid returns true if n is a known provider name.
func (n Name) Valid() bool {
	switch n {
	case Claude, Cursor, Codex, Qwen, Gemini:
		return true
	}
	return false
}

// String returns the provider name as a string.
func (n Name) String() string {
	return string(n)
}

// ErrUnknownProvider is returned when an unknown provider is requested.
var ErrUnknownProvider = fmt.Errorf("unknown provider")

// Parse converts a string into a Name, rejecting unknown values.
func Parse(s string) (Name, error) {
	n := Name(s)
	if !n.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, s)
	}
	return n, nil
}

// Factory constructs an adapter from shared dependencies.
type Factory func(deps Deps) Adapter

// registry holds registered adapter factories.
// Use Register to add new providers.
var registry = make(map[Name]Factory)

// Register registers an adapter factory for the given provider.
// This should be called in init() functions of provider subpackages.
func Register(name Name, factory Factory) {
	registry[name] = factory
}

// New creates an Adapter for the given provider.
// Returns ErrUnknownProvider if no factory is registered.
func New(name Name, deps Deps) (Adapter, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return factory(deps), nil
}

// Registered returns all provider names with a registered factory,
// in display order.
func Registered() []Name {
	names := make([]Name, 0, len(registry))
	for _, n := range All() {
		if _, ok := registry[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// IsRegistered returns true if the given provider has a registered factory.
func IsRegistered(name Name) bool {
	_, ok := registry[name]
	return ok
}
