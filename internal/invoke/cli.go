package invoke

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/errors"
	"github.com/ciatc/band/internal/util"
)

// killGrace bounds how long Invoke waits for output pipes after the child's
// process group has been killed.
const killGrace = 2 * time.Second

// CLIInvoker runs prompts through the claude command line in print mode.
// The prompt is passed on stdin; the child runs in its own process group so
// cancellation kills any tools it started as well.
type CLIInvoker struct {
	command         string
	skipPermissions bool
	environ         func() []string
}

// NewCLIInvoker creates a CLI invoker from config.
func NewCLIInvoker(cfg config.InvokerConfig) *CLIInvoker {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &CLIInvoker{
		command:         command,
		skipPermissions: cfg.SkipPermissions,
		environ:         os.Environ,
	}
}

// Command returns the executable the invoker runs.
func (c *CLIInvoker) Command() string { return c.command }

// BuildArgs returns the CLI arguments for a model.
func (c *CLIInvoker) BuildArgs(model string) []string {
	var args []string
	if c.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return append(args, "--print")
}

// Invoke implements Invoker.
func (c *CLIInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}

	cmd := exec.CommandContext(ctx, c.command, c.BuildArgs(req.Model)...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Dir = req.WorkDir
	cmd.Env = req.Invocation.ChildEnv(c.environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid signals the whole group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%s: %w", c.command, ctxErr)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s: %s", errors.ErrInvocationFailed, c.command, util.TruncateString(msg, 200))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("%w: %s produced no output", errors.ErrInvocationFailed, c.command)
	}
	return out, nil
}
