package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chorus/internal/provider"
)

var (
	modelsProvider string
	modelsCheck    string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported models, or validate one with --model",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "",
		"restrict to one provider (claude, cursor, codex, qwen, gemini)")
	modelsCmd.Flags().StringVarP(&modelsCheck, "model", "m", "",
		"validate this model name instead of listing")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	names := provider.All()
	if modelsProvider != "" {
		name, err := provider.Parse(modelsProvider)
		if err != nil {
			return fmt.Errorf("%w (known: %v)", err, provider.All())
		}
		names = []provider.Name{name}
	}

	if modelsCheck != "" {
		return checkModel(cmd, names)
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "%s:\n", name)
		for _, model := range provider.SupportedModels(name) {
			native := provider.ResolveModel(name, model)
			if native != model {
				fmt.Fprintf(out, "  %s -> %s\n", model, native)
			} else {
				fmt.Fprintf(out, "  %s\n", model)
			}
		}
	}
	return nil
}

// checkModel reports which of the given providers accept the model, and
// suggests each provider's models when none do.
func checkModel(cmd *cobra.Command, names []provider.Name) error {
	out := cmd.OutOrStdout()
	supported := false
	for _, name := range names {
		if provider.IsModelSupported(name, modelsCheck) {
			supported = true
			fmt.Fprintf(out, "%s: %s -> %s\n", name, modelsCheck,
				provider.ResolveModel(name, modelsCheck))
		}
	}
	if supported {
		return nil
	}

	fmt.Fprintf(out, "model %q is not recognized by any of: %v\n", modelsCheck, names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s accepts: %v\n", name, provider.SupportedModels(name))
	}
	return fmt.Errorf("unsupported model: %s", modelsCheck)
}
