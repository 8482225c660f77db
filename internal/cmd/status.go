package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ciatc/band/internal/lockgate"
	"github.com/ciatc/band/internal/util"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running agents and recent completions",
	Long: `Display agents currently holding a lock in this project and agents that
completed within the last locks.completion_ttl_seconds.

--line prints a single compact line suitable for a status line command;
--width bounds it for fixed-width status bars.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusJSON  bool
	statusLine  bool
	statusWidth int
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	statusCmd.Flags().BoolVar(&statusLine, "line", false, "Output one compact line")
	statusCmd.Flags().IntVar(&statusWidth, "width", 0, "Truncate --line output to this many columns (0 for no limit)")
	rootCmd.AddCommand(statusCmd)
}

// statusEntry is the --json shape of one lock entry.
type statusEntry struct {
	Agent           string         `json:"agent"`
	State           lockgate.State `json:"state"`
	PID             int            `json:"pid,omitempty"`
	HostID          string         `json:"host_id,omitempty"`
	Since           time.Time      `json:"since"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	entries, err := env.stack.Gate.Status()
	if err != nil {
		return fmt.Errorf("failed to read agent status: %w", err)
	}
	w := cmd.OutOrStdout()

	switch {
	case statusJSON:
		out := make([]statusEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, statusEntry{
				Agent:           e.Agent,
				State:           e.State,
				PID:             e.PID,
				HostID:          e.HostID,
				Since:           e.Since,
				DurationSeconds: e.Duration.Seconds(),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case statusLine:
		line := formatStatusLine(entries)
		if statusWidth > 0 {
			line = util.TruncateANSI(line, statusWidth)
		}
		fmt.Fprintln(w, line)
		return nil
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No agents running or recently completed.")
		return nil
	}

	now := time.Now()
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Agent", "State", "PID", "Host", "Since", "Duration"})
	for _, e := range entries {
		pid, dur := "", ""
		if e.State == lockgate.StateRunning {
			pid = fmt.Sprint(e.PID)
			dur = now.Sub(e.Since).Round(time.Second).String()
		} else {
			dur = e.Duration.Round(time.Millisecond).String()
		}
		tw.AppendRow(table.Row{
			e.Agent,
			stateStyle(e.State).Render(string(e.State)),
			pid,
			e.HostID,
			e.Since.Local().Format("15:04:05"),
			dur,
		})
	}
	tw.Render()
	return nil
}

// formatStatusLine renders entries as "running: a, b | done: c".
func formatStatusLine(entries []lockgate.Entry) string {
	var running, done []string
	for _, e := range entries {
		if e.State == lockgate.StateRunning {
			running = append(running, e.Agent)
		} else {
			done = append(done, e.Agent)
		}
	}
	var parts []string
	if len(running) > 0 {
		parts = append(parts, "running: "+strings.Join(running, ", "))
	}
	if len(done) > 0 {
		parts = append(parts, "done: "+strings.Join(done, ", "))
	}
	if len(parts) == 0 {
		return "band: idle"
	}
	return "band: " + strings.Join(parts, " | ")
}
