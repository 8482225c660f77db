package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ciatc/band/internal/profiler"
	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List files changed since the last hook run",
	Long: `List project files that are new or modified since the change cache was
last written, together with the project statistics the conductor sees.

By default the cache is left untouched so the next hook run still sees the
changes. --commit records the current state instead.`,
	Args: cobra.NoArgs,
	RunE: runChanges,
}

var (
	changesJSON   bool
	changesCommit bool
)

func init() {
	changesCmd.Flags().BoolVar(&changesJSON, "json", false, "Output statistics as JSON")
	changesCmd.Flags().BoolVar(&changesCommit, "commit", false, "Write the change cache")
	rootCmd.AddCommand(changesCmd)
}

func runChanges(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	prof := env.stack.Profiler
	if !changesCommit {
		if prof, err = env.stack.PeekProfiler(); err != nil {
			return err
		}
	}
	stats, err := prof.CurrentStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compute changes: %w", err)
	}
	removed := env.stack.Tracker.Removed()

	w := cmd.OutOrStdout()
	if changesJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			profiler.Stats
			Removed []string `json:"removed,omitempty"`
		}{stats, removed})
	}

	fmt.Fprintln(w, titleStyle.Render("Project"))
	fmt.Fprintln(w, field("size", string(stats.SizeClass)))
	fmt.Fprintln(w, field("files", fmt.Sprint(stats.FileCount)))
	fmt.Fprintln(w, field("lines", fmt.Sprint(stats.TotalLines)))
	fmt.Fprintln(w, field("timeout", fmt.Sprintf("%ds suggested", stats.SuggestedTimeout)))
	fmt.Fprintln(w)

	if len(stats.ChangedFiles) == 0 && len(removed) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No changes since the last run."))
		return nil
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Changed (%d)", len(stats.ChangedFiles))))
	for _, f := range stats.ChangedFiles {
		fmt.Fprintln(w, "  "+f)
	}
	if len(removed) > 0 {
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Removed (%d)", len(removed))))
		for _, f := range removed {
			fmt.Fprintln(w, "  "+mutedStyle.Render(f))
		}
	}
	return nil
}
