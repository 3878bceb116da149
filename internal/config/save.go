package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelOverrides maps provider name to alias-to-native model mappings.
//
// YAML shape:
//
//	claude:
//	  fast: claude-3-5-haiku-20241022
//	gemini:
//	  default: gemini-2.5-pro
type ModelOverrides map[string]map[string]string

// LoadModelOverrides reads extra model aliases from a YAML file. A missing
// file is not an error; operators opt in by creating it.
func LoadModelOverrides(path string) (ModelOverrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading model overrides: %w", err)
	}

	var overrides ModelOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing model overrides: %w", err)
	}
	return overrides, nil
}

// SaveModelOverrides writes the overrides file atomically (write to temp,
// then rename) so a crash mid-write never leaves a truncated file.
func SaveModelOverrides(path string, overrides ModelOverrides) error {
	doc := buildOverridesNode(overrides)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling model overrides: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".chorus.models.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// buildOverridesNode emits providers and aliases in sorted order so saved
// files diff cleanly.
func buildOverridesNode(overrides ModelOverrides) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}

	providers := make([]string, 0, len(overrides))
	for provider := range overrides {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		aliasNode := &yaml.Node{Kind: yaml.MappingNode}

		aliases := make([]string, 0, len(overrides[provider]))
		for alias := range overrides[provider] {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

		for _, alias := range aliases {
			aliasNode.Content = append(aliasNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: alias},
				&yaml.Node{Kind: yaml.ScalarNode, Value: overrides[provider][alias]},
			)
		}

		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: provider},
			aliasNode,
		)
	}

	return root
}
