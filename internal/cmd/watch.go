package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ciatc/band/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project and keep the line-count cache warm",
	Long: `Watch the project for file changes. After each burst of edits the
line-count cache is refreshed and a summary of pending changes is printed,
so the next hook run only has to look at new edits.

The change cache itself is not written: pending changes are still reported
to the next UserPromptSubmit hook.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before refreshing")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	prof, err := env.stack.PeekProfiler()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w := cmd.OutOrStdout()

	refresh := func(touched []string) {
		stats, err := prof.CurrentStats(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(fmt.Sprintf("refresh failed: %v", err)))
			}
			return
		}
		fmt.Fprintf(w, "%s %s\n",
			mutedStyle.Render(time.Now().Format("15:04:05")),
			fmt.Sprintf("%d touched, %d pending changes, %d files, %d lines (%s, %ds)",
				len(touched), len(stats.ChangedFiles), stats.FileCount, stats.TotalLines,
				stats.SizeClass, stats.SuggestedTimeout))
	}

	watcher, err := watch.New(env.stack.ProjectDir, watch.Options{
		Debounce: watchDebounce,
		Ignore:   env.stack.Tracker.Ignored,
		OnChange: refresh,
		Logger:   env.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch %s: %w", env.stack.ProjectDir, err)
	}
	defer watcher.Stop()

	fmt.Fprintln(w, titleStyle.Render("Watching "+env.stack.ProjectDir)+mutedStyle.Render(" (Ctrl+C to stop)"))
	refresh(nil)

	<-ctx.Done()
	return nil
}
