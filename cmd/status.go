package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chorus/internal/availability"
	"github.com/zjrosen/chorus/internal/provider"

	_ "github.com/zjrosen/chorus/internal/provider/claude"
	_ "github.com/zjrosen/chorus/internal/provider/codex"
	_ "github.com/zjrosen/chorus/internal/provider/cursor"
	_ "github.com/zjrosen/chorus/internal/provider/gemini"
	_ "github.com/zjrosen/chorus/internal/provider/qwen"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe every provider CLI and report availability",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	adapters := make([]provider.Adapter, 0, len(provider.Registered()))
	for _, name := range provider.Registered() {
		adapter, err := provider.New(name, provider.Deps{})
		if err != nil {
			continue
		}
		adapters = append(adapters, adapter)
	}

	// TTL zero: a status command should always probe fresh.
	checker := availability.NewChecker(0)
	statuses := checker.CheckAll(ctx, adapters)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tAVAILABLE\tCONFIGURED\tVERSION\tMODELS\tDETAIL")
	for _, name := range provider.Registered() {
		status := statuses[name]
		version := status.Version
		if version == "" {
			version = "-"
		}
		detail := status.Error
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", name,
			yesNo(status.Available), yesNo(status.Configured),
			version, len(status.Models), detail)
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
