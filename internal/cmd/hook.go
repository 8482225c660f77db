package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/hook"
	"github.com/ciatc/band/internal/hookrun"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/invoke"
	"github.com/spf13/cobra"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Handle a hook event read from stdin",
	Long: `Read one hook event from stdin and write the response to stdout.

UserPromptSubmit events are classified by the conductor and the selected
agents' report is appended to the payload. Stop events run the maintenance
agents and pass the payload through. Any other input is echoed unchanged.

The hook never fails the host: configuration or agent errors are logged to
debug.log and the payload is still written.`,
	Args: cobra.NoArgs,
	RunE: runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func runHook(cmd *cobra.Command, args []string) error {
	payload, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read hook payload: %w", err)
	}

	dir, err := projectDir(cmd)
	if err != nil {
		dir = "."
	}
	if ev, err := hook.ParseEvent(payload); err == nil && ev.Cwd != "" {
		dir = ev.Cwd
		// The event names the project; its .band.yaml applies, not the
		// one of the directory band was started in.
		setupConfig(dir)
	}

	cfg, cfgErr := appconfig.Load()
	if cfgErr != nil {
		cfg = appconfig.Default()
	}

	logger := newLogger(cfg, dir)
	defer func() { _ = logger.Close() }()
	if cfgErr != nil {
		logger.Warn("invalid configuration, using defaults", "error", cfgErr)
	}

	inv, err := invoke.NewFromConfig(cfg)
	if err != nil {
		logger.Warn("no model backend, agents will fail", "error", err)
		inv = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := hookrun.NewRunner(hookrun.Options{
		Config:     cfg,
		Invoker:    inv,
		Logger:     logger,
		Stderr:     cmd.ErrOrStderr(),
		ProjectDir: dir,
	})
	return runner.Handle(ctx, invocation.FromProcess(), payload, cmd.OutOrStdout())
}
