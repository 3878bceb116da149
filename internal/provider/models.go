package provider

import (
	"sort"
	"sync"

	"github.com/zjrosen/chorus/internal/log"
)

// modelsMu guards modelMappings: the daemon hot-reloads overrides while
// turns resolve models concurrently.
var modelsMu sync.RWMutex

// modelMappings maps user-facing model aliases to each provider's native
// model names. Keys are accepted aliases; values are what the CLI is
// actually invoked with. Native names map to themselves so stored values
// survive round trips.
var modelMappings = map[Name]map[string]string{
	Claude: {
		"opus-4.1":  "claude-opus-4-1-20250805",
		"sonnet-4":  "claude-sonnet-4-20250514",
		"opus-4":    "claude-opus-4-20250514",
		"haiku-3.5": "claude-3-5-haiku-20241022",

		"claude-sonnet-4":  "claude-sonnet-4-20250514",
		"claude-opus-4.1":  "claude-opus-4-1-20250805",
		"claude-opus-4":    "claude-opus-4-20250514",
		"claude-haiku-3.5": "claude-3-5-haiku-20241022",

		"claude-sonnet-4-20250514":  "claude-sonnet-4-20250514",
		"claude-opus-4-1-20250805":  "claude-opus-4-1-20250805",
		"claude-opus-4-20250514":    "claude-opus-4-20250514",
		"claude-3-5-haiku-20241022": "claude-3-5-haiku-20241022",
	},
	Cursor: {
		"gpt-5":             "gpt-5",
		"sonnet-4":          "sonnet-4",
		"opus-4.1":          "opus-4.1",
		"sonnet-4-thinking": "sonnet-4-thinking",

		"claude-sonnet-4": "sonnet-4",
		"claude-opus-4.1": "opus-4.1",

		"claude-sonnet-4-20250514": "sonnet-4",
		"claude-opus-4-1-20250805": "opus-4.1",
	},
	Codex: {
		"gpt-5":       "gpt-5",
		"gpt-4o":      "gpt-4o",
		"gpt-4o-mini": "gpt-4o-mini",
		"o1-preview":  "o1-preview",
		"o1-mini":     "o1-mini",

		"claude-3.5-sonnet": "claude-3.5-sonnet",
		"claude-3-haiku":    "claude-3-haiku",

		"sonnet-4":         "claude-3.5-sonnet",
		"claude-sonnet-4":  "claude-3.5-sonnet",
		"haiku-3.5":        "claude-3-haiku",
		"claude-haiku-3.5": "claude-3-haiku",
	},
	Qwen: {
		"qwen3-coder-plus": "qwen-coder",
		"Qwen3 Coder Plus": "qwen-coder",
		"qwen-coder":       "qwen-coder",
	},
	Gemini: {
		"gemini-2.5-pro":   "gemini-2.5-pro",
		"gemini-2.5-flash": "gemini-2.5-flash",
	},
}

// ApplyModelOverrides merges operator-supplied alias mappings over the
// built-in tables. Overrides for unknown providers are ignored with a
// warning. Safe to call while the daemon is serving turns; removed
// overrides do not un-merge until restart.
func ApplyModelOverrides(overrides map[string]map[string]string) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	for name, aliases := range overrides {
		provider := Name(name)
		mapping, ok := modelMappings[provider]
		if !ok {
			log.Warn(log.CatProvider, "model overrides for unknown provider ignored", "provider", name)
			continue
		}
		for alias, native := range aliases {
			mapping[alias] = native
		}
	}
}

// ResolveModel translates a model alias to the provider's native name.
// Unknown aliases pass through unchanged with a warning so new models work
// before the table catches up. Resolution is idempotent: resolving an
// already-native name returns it as-is.
func ResolveModel(provider Name, model string) string {
	if model == "" {
		return model
	}

	modelsMu.RLock()
	defer modelsMu.RUnlock()
	mapping, ok := modelMappings[provider]
	if !ok {
		return model
	}

	if native, ok := mapping[model]; ok {
		return native
	}

	// Already a native name for this provider
	for _, native := range mapping {
		if native == model {
			return model
		}
	}

	log.Warn(log.CatProvider, "unknown model for provider, passing through",
		"provider", provider, "model", model)
	return model
}

// SupportedModels returns every alias and native name the provider accepts,
// sorted and de-duplicated.
func SupportedModels(provider Name) []string {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	mapping, ok := modelMappings[provider]
	if !ok {
		return nil
	}

	seen := make(map[string]struct{}, len(mapping)*2)
	for alias, native := range mapping {
		seen[alias] = struct{}{}
		seen[native] = struct{}{}
	}

	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// IsModelSupported reports whether the model is a known alias or native
// name for the provider.
func IsModelSupported(provider Name, model string) bool {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	mapping, ok := modelMappings[provider]
	if !ok {
		return false
	}
	if _, ok := mapping[model]; ok {
		return true
	}
	for _, native := range mapping {
		if native == model {
			return true
		}
	}
	return false
}
