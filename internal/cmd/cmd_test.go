package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/lockgate"
	"github.com/ciatc/band/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(t *testing.T, root *cobra.Command, stdin string, args ...string) (output string, err error) {
	t.Helper()

	// Keep the developer's own config out of the run.
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	viper.Reset()
	t.Cleanup(viper.Reset)

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	t.Cleanup(func() {
		root.SetIn(nil)
		root.SetOut(nil)
		root.SetErr(nil)
	})
	err = root.Execute()
	return buf.String(), err
}

// resetFlag restores a package-level flag variable after the test.
func resetFlag(t *testing.T, flag *bool) {
	t.Helper()
	t.Cleanup(func() { *flag = false })
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "band" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "band")
	}

	expectedCmds := []string{"hook", "decide", "status", "changes", "cleanup", "watch", "logs", "config"}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, name := range expectedCmds {
		if !cmdMap[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}

	for _, name := range []string{"config", "project"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing persistent flag --%s", name)
		}
	}
}

func TestHookCommand_PassThrough(t *testing.T) {
	project := t.TempDir()

	tests := []struct {
		name    string
		env     string
		payload string
	}{
		{
			name:    "unknown event",
			payload: `{"hook_event_name":"Notification","cwd":"` + project + `"}`,
		},
		{
			name:    "not json",
			payload: "plain text from the host",
		},
		{
			name:    "spawned by band",
			env:     "parent-run",
			payload: `{"hook_event_name":"UserPromptSubmit","prompt":"refactor the parser","cwd":"` + project + `"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(invocation.EnvVar, tt.env)
			out, err := executeCommand(t, rootCmd, tt.payload, "hook", "--project", project)
			if err != nil {
				t.Fatalf("hook failed: %v", err)
			}
			if out != tt.payload {
				t.Errorf("hook output = %q, want the payload unchanged", out)
			}
		})
	}
}

func TestHookCommand_UsesEventProjectConfig(t *testing.T) {
	project := t.TempDir()
	other := t.TempDir()
	for dir, cache := range map[string]string{project: "project_cache", other: "other_cache"} {
		content := "paths:\n  cache_dir: " + cache + "\n"
		if err := os.WriteFile(filepath.Join(dir, appconfig.ProjectConfigFile), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	payload := `{"hook_event_name":"Notification","cwd":"` + project + `"}`
	out, err := executeCommand(t, rootCmd, payload, "hook", "--project", other)
	if err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if out != payload {
		t.Errorf("hook output = %q, want the payload unchanged", out)
	}

	if _, err := os.Stat(filepath.Join(project, "project_cache", logging.LogFileName)); err != nil {
		t.Errorf("the event project's .band.yaml should place the log: %v", err)
	}
	for _, stray := range []string{filepath.Join(project, "other_cache"), filepath.Join(other, "other_cache")} {
		if _, err := os.Stat(stray); err == nil {
			t.Errorf("%s exists, the --project config leaked into the event's project", stray)
		}
	}
}

func TestStatusCommand_JSON(t *testing.T) {
	project := t.TempDir()
	resetFlag(t, &statusJSON)

	out, err := executeCommand(t, rootCmd, "", "status", "--json", "--project", project)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("empty project status = %q, want []", out)
	}

	gate := lockgate.New(filepath.Join(project, appconfig.Default().Paths.CacheDir, lockgate.DirName), appconfig.Default().Locks)
	lock, err := gate.TryAcquire("ringo")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	t.Cleanup(func() { _ = lock.Release() })

	out, err = executeCommand(t, rootCmd, "", "status", "--json", "--project", project)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var entries []statusEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Agent != "ringo" || entries[0].State != lockgate.StateRunning {
		t.Errorf("entries = %+v, want ringo running", entries)
	}
	if entries[0].PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", entries[0].PID, os.Getpid())
	}
}

func TestStatusCommand_LineWidth(t *testing.T) {
	project := t.TempDir()
	resetFlag(t, &statusLine)
	t.Cleanup(func() { statusWidth = 0 })

	gate := lockgate.New(filepath.Join(project, appconfig.Default().Paths.CacheDir, lockgate.DirName), appconfig.Default().Locks)
	for _, name := range []string{"john", "george", "pete"} {
		lock, err := gate.TryAcquire(name)
		if err != nil {
			t.Fatalf("TryAcquire(%s): %v", name, err)
		}
		t.Cleanup(func() { _ = lock.Release() })
	}

	out, err := executeCommand(t, rootCmd, "", "status", "--line", "--width", "16", "--project", project)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	line := strings.TrimSpace(out)
	if len(line) > 16 || !strings.HasSuffix(line, "...") {
		t.Errorf("status line = %q, want at most 16 columns ending in ...", line)
	}
}

func TestFormatStatusLine(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		entries []lockgate.Entry
		want    string
	}{
		{"idle", nil, "band: idle"},
		{
			"running only",
			[]lockgate.Entry{{Agent: "john", State: lockgate.StateRunning, Since: now}},
			"band: running: john",
		},
		{
			"mixed",
			[]lockgate.Entry{
				{Agent: "george", State: lockgate.StateRunning, Since: now},
				{Agent: "pete", State: lockgate.StateRunning, Since: now},
				{Agent: "ringo", State: lockgate.StateCompleted, Since: now, Duration: time.Second},
			},
			"band: running: george, pete | done: ringo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatStatusLine(tt.entries); got != tt.want {
				t.Errorf("formatStatusLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanupCommand_DryRun(t *testing.T) {
	project := t.TempDir()
	resetFlag(t, &cleanupDryRun)
	locks := filepath.Join(project, appconfig.Default().Paths.CacheDir, lockgate.DirName)

	// A lock held by a process that no longer exists.
	dead := lockgate.New(locks, appconfig.Default().Locks,
		lockgate.WithPID(999999),
		lockgate.WithProcessChecker(func(int) bool { return true }))
	if _, err := dead.TryAcquire("pete"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	out, err := executeCommand(t, rootCmd, "", "cleanup", "--dry-run", "--project", project)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if !strings.Contains(out, "pete") {
		t.Errorf("dry run should list the stale pete lock:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(locks, "pete.lock")); err != nil {
		t.Errorf("dry run removed the lock: %v", err)
	}
}

func TestPassesFilters(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	entry := &logEntry{
		Time:  base,
		Level: "WARN",
		Msg:   "agent timed out",
		RunID: "3f2a9c1e-aaaa",
		Agent: "ringo",
		Extra: map[string]any{"timeout": "2m0s"},
	}

	tests := []struct {
		name   string
		filter logFilter
		want   bool
	}{
		{"no filter", logFilter{minLevel: -1}, true},
		{"level below", logFilter{minLevel: levelPriority("info")}, true},
		{"level above", logFilter{minLevel: levelPriority("error")}, false},
		{"since before", logFilter{minLevel: -1, since: base.Add(-time.Minute)}, true},
		{"since after", logFilter{minLevel: -1, since: base.Add(time.Minute)}, false},
		{"run prefix", logFilter{minLevel: -1, run: "3f2a"}, true},
		{"other run", logFilter{minLevel: -1, run: "beef"}, false},
		{"agent", logFilter{minLevel: -1, agent: "ringo"}, true},
		{"other agent", logFilter{minLevel: -1, agent: "john"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := passesFilters(entry, tt.filter); got != tt.want {
				t.Errorf("passesFilters() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisplayLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	lines := []string{
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"run started","run_id":"r1"}`,
		`{"time":"2026-01-02T10:00:01Z","level":"ERROR","msg":"agent failed","run_id":"r1","agent":"john","phase":1}`,
		`not json at all`,
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := displayLogs(&buf, path, 0, logFilter{minLevel: -1, agent: "john"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "agent failed") || strings.Contains(out, "run started") {
		t.Errorf("agent filter output:\n%s", out)
	}
	if !strings.Contains(out, "not json at all") {
		t.Error("lines that are not JSON should be shown raw")
	}

	buf.Reset()
	if err := displayLogs(&buf, path, 1, logFilter{minLevel: -1}); err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(buf.String()), "\n") != 0 {
		t.Errorf("tail 1 should print one line:\n%s", buf.String())
	}
}
