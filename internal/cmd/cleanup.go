package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ciatc/band/internal/profiler"
	"github.com/ciatc/band/internal/tracker"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim stale agent locks and optionally reset caches",
	Long: `Cleanup removes state that can be left behind by crashed hook runs:

- Locks: agent locks whose owner is gone or that are older than
  locks.stale_after_seconds
- Completion records older than locks.completion_ttl_seconds
- Caches (with --caches): the change and line-count caches, so the next
  run treats every file as changed

Use --dry-run to see what would be cleaned up without making changes.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

var (
	cleanupDryRun bool
	cleanupForce  bool
	cleanupCaches bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned up without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupCaches, "caches", false, "Also delete the change and line-count caches")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()
	w := cmd.OutOrStdout()

	stale, err := env.stack.Gate.Stale()
	if err != nil {
		return fmt.Errorf("failed to inspect locks: %w", err)
	}

	var caches []string
	if cleanupCaches {
		for _, name := range []string{tracker.CacheFileName, profiler.LineCacheFileName} {
			path := filepath.Join(env.stack.CacheDir, name)
			if _, err := os.Stat(path); err == nil {
				caches = append(caches, path)
			}
		}
	}

	if len(stale) == 0 && len(caches) == 0 {
		fmt.Fprintln(w, "Nothing to clean up.")
		return nil
	}

	if len(stale) > 0 {
		fmt.Fprintf(w, "Stale locks (%d):\n", len(stale))
		for _, name := range stale {
			fmt.Fprintf(w, "  - %s\n", name)
		}
	}
	if len(caches) > 0 {
		fmt.Fprintf(w, "Caches (%d):\n", len(caches))
		for _, path := range caches {
			fmt.Fprintf(w, "  - %s\n", path)
		}
	}

	if cleanupDryRun {
		fmt.Fprintln(w, "\nDry run - no changes made.")
		return nil
	}

	// Deleting caches loses change history, so ask first.
	if len(caches) > 0 && !cleanupForce {
		fmt.Fprint(w, "\nProceed with cleanup? [y/N] ")
		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(w, "Cleanup cancelled.")
			return nil
		}
	}

	reclaimed, err := env.stack.Gate.CleanStale()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	removed := 0
	for _, path := range caches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}

	fmt.Fprintf(w, "\nReclaimed %d lock(s), removed %d cache file(s).\n", len(reclaimed), removed)
	return nil
}
