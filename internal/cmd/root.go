package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ciatc/band/internal/cmd/config"
	appconfig "github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/hookrun"
	"github.com/ciatc/band/internal/invoke"
	"github.com/ciatc/band/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "band",
	Short: "Background agents for Claude Code hooks",
	Long: `band decides, for every prompt you send, whether a set of background
agents should run, which ones, and for how long. It runs them in dependency
phases under per-agent locks and appends their merged findings to the prompt.

Install "band hook" as both the UserPromptSubmit and the Stop hook.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/band/config.yaml)")
	rootCmd.PersistentFlags().StringP("project", "C", "", "project directory (default is the current directory)")

	config.Register(rootCmd)
}

func initConfig() {
	dir, _ := rootCmd.PersistentFlags().GetString("project")
	if dir == "" {
		dir, _ = os.Getwd()
	}
	setupConfig(dir)
}

// setupConfig rebuilds viper's state for the project at dir: defaults, the
// user config file, BAND_* environment variables, then dir's .band.yaml
// merged over them. Calling it again for another project drops the
// previous project's overrides.
func setupConfig(dir string) {
	viper.Reset()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	// Set defaults first so they're available even without a config file
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/band")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BAND")
	// Replace dots with underscores for nested keys in env vars
	// e.g., BAND_LOCKS_STALE_AFTER_SECONDS for locks.stale_after_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()

	// A project-local .band.yaml overrides the user config key by key.
	if dir != "" {
		local := filepath.Join(dir, appconfig.ProjectConfigFile)
		if _, err := os.Stat(local); err == nil {
			viper.SetConfigFile(local)
			_ = viper.MergeInConfig()
		}
	}
}

// projectDir resolves --project, defaulting to the working directory.
func projectDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("project")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = wd
	}
	return filepath.Abs(dir)
}

// newLogger opens debug.log in the project's cache directory. Logging
// problems never stop a command.
func newLogger(cfg *appconfig.Config, dir string) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}
	logger, err := logging.NewLoggerWithRotation(cfg.CacheDir(dir), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return logging.NopLogger()
	}
	return logger
}

// commandEnv is the configuration, logger and wired components a
// subcommand works with.
type commandEnv struct {
	cfg    *appconfig.Config
	logger *logging.Logger
	stack  *hookrun.Stack
}

func (e *commandEnv) Close() { _ = e.logger.Close() }

// newCommandEnv loads configuration and wires the project. withInvoker
// builds the configured model backend; commands that never call a model
// leave it nil.
func newCommandEnv(cmd *cobra.Command, withInvoker bool) (*commandEnv, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	dir, err := projectDir(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, dir)

	var inv invoke.Invoker
	if withInvoker {
		if inv, err = invoke.NewFromConfig(cfg); err != nil {
			_ = logger.Close()
			return nil, err
		}
	}

	stack, err := hookrun.NewStack(hookrun.StackOptions{
		Config:     cfg,
		ProjectDir: dir,
		Invoker:    inv,
		Logger:     logger,
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &commandEnv{cfg: cfg, logger: logger, stack: stack}, nil
}
