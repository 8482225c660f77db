package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/conductor"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/profiler"
	"github.com/spf13/cobra"
)

var decideCmd = &cobra.Command{
	Use:   "decide <prompt>",
	Short: "Show what the conductor would decide for a prompt",
	Long: `Classify a prompt the way the UserPromptSubmit hook would, without
running any agent and without consuming pending file changes.

Examples:
  band decide "implement JWT authentication for the API"
  band decide --fallback "what is a mutex?"
  band decide --json --agents john,pete "refactor the parser"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecide,
}

var (
	decideJSON     bool
	decideFallback bool
	decideAgents   []string
)

func init() {
	decideCmd.Flags().BoolVar(&decideJSON, "json", false, "Output the decision as JSON")
	decideCmd.Flags().BoolVar(&decideFallback, "fallback", false, "Skip the classifier and apply the fallback policy")
	decideCmd.Flags().StringSliceVar(&decideAgents, "agents", nil, "Candidate agents (default: hooks.prompt_agents)")
	rootCmd.AddCommand(decideCmd)
}

// decideOutput is the --json shape.
type decideOutput struct {
	Decision conductor.Decision `json:"decision"`
	Stats    profiler.Stats     `json:"stats"`
	Plan     string             `json:"plan,omitempty"`
}

func runDecide(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd, !decideFallback)
	if err != nil {
		return err
	}
	defer env.Close()

	prompt := strings.Join(args, " ")
	candidates := decideAgents
	if len(candidates) == 0 {
		candidates = env.cfg.Hooks.PromptAgents
	}

	prof, err := env.stack.PeekProfiler()
	if err != nil {
		return err
	}
	ctx := context.Background()
	stats, err := prof.CurrentStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to profile project: %w", err)
	}

	cond := env.stack.Conductor(invocation.New(), candidates)
	var d conductor.Decision
	if decideFallback {
		d = cond.Fallback(prompt)
	} else {
		d = cond.Decide(ctx, prompt, stats)
	}

	out := decideOutput{Decision: d, Stats: stats}
	if d.ShouldRun {
		out.Plan = env.stack.Registry.Plan(d.Agents).String()
	}

	if decideJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, titleStyle.Render("Conductor decision"))
	if d.ShouldRun {
		fmt.Fprintln(w, field("run", successStyle.Render("yes")))
		fmt.Fprintln(w, field("agents", strings.Join(agent.Names(d.Agents), ", ")))
		fmt.Fprintln(w, field("phases", out.Plan))
		fmt.Fprintln(w, field("timeout", fmt.Sprintf("%ds", d.TimeoutSeconds)))
	} else {
		fmt.Fprintln(w, field("run", mutedStyle.Render("no")))
	}
	fmt.Fprintln(w, field("priority", string(d.Priority)))
	fmt.Fprintln(w, field("source", string(d.Source)))
	fmt.Fprintln(w, field("reason", d.Reason))
	fmt.Fprintln(w)
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%s project: %d files, %d lines, %d changed (suggested timeout %ds)",
		stats.SizeClass, stats.FileCount, stats.TotalLines, len(stats.ChangedFiles), stats.SuggestedTimeout)))
	return nil
}
