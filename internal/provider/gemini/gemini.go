// Package gemini integrates the Gemini CLI over the Agent Client Protocol.
// One long-lived `gemini --experimental-acp` process serves every project;
// the shared turn engine lives in internal/provider/acp.
package gemini

import (
	"context"
	"fmt"
	"os"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/provider/acp"
)

func init() {
	provider.Register(provider.Gemini, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// geminiBin is the CLI binary name.
const geminiBin = "gemini"

// Adapter runs gemini turns through the shared ACP engine.
type Adapter struct {
	deps   provider.Deps
	engine *acp.Engine
	*provider.Sessions
}

// New creates a gemini adapter.
func New(deps provider.Deps) *Adapter {
	sessions := provider.NewSessions(provider.Gemini, deps.Sessions)
	return &Adapter{
		deps:     deps,
		engine:   acp.NewEngine(dialect{}, deps, sessions),
		Sessions: sessions,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.Gemini }

// CheckAvailability probes `gemini --help`.
func (a *Adapter) CheckAvailability(ctx context.Context) provider.Status {
	if _, err := provider.Probe(ctx, a.deps.CommandFactory, geminiBin, "--help"); err != nil {
		if provider.IsNotFound(err) {
			return provider.Status{
				Error: "Gemini CLI not found. Install with: npm install -g @google/gemini-cli",
			}
		}
		return provider.Status{
			Error: fmt.Sprintf("Gemini CLI failed its probe: %v", err),
		}
	}
	return provider.Status{
		Available:  true,
		Configured: true,
		Models:     a.SupportedModels(),
	}
}

// SupportedModels lists every accepted alias and native name.
func (a *Adapter) SupportedModels() []string {
	return provider.SupportedModels(provider.Gemini)
}

// IsModelSupported reports whether the model is usable here.
func (a *Adapter) IsModelSupported(model string) bool {
	return provider.IsModelSupported(provider.Gemini, model)
}

// Stream runs one turn through the shared ACP engine.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		a.engine.RunTurn(ctx, req, out)
	}()
	return out
}

// dialect is the gemini flavor of the ACP protocol.
type dialect struct{}

func (dialect) Name() provider.Name { return provider.Gemini }

func (dialect) Command() (string, []string, []string) {
	return geminiBin, []string{"--experimental-acp"}, nil
}

func (dialect) MarkerFile() string { return "GEMINI.md" }

func (dialect) AuthMethod() string {
	if method := os.Getenv("GEMINI_AUTH_METHOD"); method != "" {
		return method
	}
	return "oauth-personal"
}

// SupportsImages is true: gemini takes inline base64 image parts.
func (dialect) SupportsImages() bool { return true }

func (dialect) ExtraRequestMethods() []string { return nil }

// ToolCallVisible renders Write tools on their update (the start carries no
// path yet) and everything else on the initial call only.
func (dialect) ToolCallVisible(rawName, summary string, isUpdate bool) bool {
	if provider.NormalizeToolName(rawName) == "Write" {
		return isUpdate
	}
	return !isUpdate
}

// CleanChat is the identity: gemini's prose needs no repair.
func (dialect) CleanChat(text string) string { return text }

// StderrFilter keeps everything; gemini is quiet on stderr.
func (dialect) StderrFilter(string) bool { return true }

var (
	_ provider.Adapter = (*Adapter)(nil)
	_ acp.Dialect      = dialect{}
)
