package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete band configuration
type Config struct {
	Paths        PathsConfig            `mapstructure:"paths" yaml:"paths"`
	Logging      LoggingConfig          `mapstructure:"logging" yaml:"logging"`
	Invoker      InvokerConfig          `mapstructure:"invoker" yaml:"invoker"`
	Conductor    ConductorConfig        `mapstructure:"conductor" yaml:"conductor"`
	Agents       map[string]AgentConfig `mapstructure:"agents" yaml:"agents"`
	Hooks        HooksConfig            `mapstructure:"hooks" yaml:"hooks"`
	Locks        LocksConfig            `mapstructure:"locks" yaml:"locks"`
	Tracker      TrackerConfig          `mapstructure:"tracker" yaml:"tracker"`
	Profiler     ProfilerConfig         `mapstructure:"profiler" yaml:"profiler"`
	Orchestrator OrchestratorConfig     `mapstructure:"orchestrator" yaml:"orchestrator"`
}

// PathsConfig locates band's on-disk state. Relative paths resolve against
// the project directory the hook runs in.
type PathsConfig struct {
	// CacheDir holds the change cache, line counts, lock records and debug.log
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
	// PromptsDir holds per-agent prompt templates (<agent>.md)
	PromptsDir string `mapstructure:"prompts_dir" yaml:"prompts_dir"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled turns on debug.log; when false logs are discarded
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the size at which debug.log is rotated (0 disables rotation)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// InvokerConfig selects how agent prompts reach a model
type InvokerConfig struct {
	// Backend is "cli" (spawn the claude binary) or "api" (Anthropic Messages API)
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Command is the CLI executable for the cli backend
	Command string `mapstructure:"command" yaml:"command"`
	// SkipPermissions passes --dangerously-skip-permissions to the CLI
	SkipPermissions bool `mapstructure:"skip_permissions" yaml:"skip_permissions"`
	// APIKeyEnv names the environment variable holding the API key for the api backend
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`
	// MaxTokens bounds API responses
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Models maps short aliases (haiku, sonnet, opus) to API model names
	Models map[string]string `mapstructure:"models" yaml:"models"`
}

// ConductorConfig controls request classification
type ConductorConfig struct {
	// Enabled consults the classifier model; when false the fallback policy decides
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Model is the model alias used for classification
	Model string `mapstructure:"model" yaml:"model"`
	// TimeoutSeconds bounds the classifier call
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// MaxTimeoutSeconds is the ceiling for any decision's agent timeout
	MaxTimeoutSeconds int `mapstructure:"max_timeout_seconds" yaml:"max_timeout_seconds"`
	// SkipPatterns are lowercase request prefixes the fallback treats as trivial
	SkipPatterns []string `mapstructure:"skip_patterns" yaml:"skip_patterns"`
}

// AgentConfig holds per-agent settings
type AgentConfig struct {
	// Model is the model alias for this agent (empty for native handlers)
	Model string `mapstructure:"model" yaml:"model"`
	// TimeoutSeconds is the agent's own ceiling, applied under the decision timeout
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// Template overrides the prompt file name inside paths.prompts_dir
	Template string `mapstructure:"template" yaml:"template,omitempty"`
}

// HooksConfig controls the host hook entry points
type HooksConfig struct {
	// PromptAgents are the candidates offered to the conductor on UserPromptSubmit
	PromptAgents []string `mapstructure:"prompt_agents" yaml:"prompt_agents"`
	// StopAgents always run on Stop
	StopAgents []string `mapstructure:"stop_agents" yaml:"stop_agents"`
	// StopTimeoutSeconds is the per-agent timeout for Stop runs
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
	// MaxReportBytes bounds the supplementary report text written after the payload
	MaxReportBytes int `mapstructure:"max_report_bytes" yaml:"max_report_bytes"`
}

// LocksConfig controls the per-agent exclusive gate
type LocksConfig struct {
	// StaleAfterSeconds is the age past which a lock is reclaimable regardless of its holder
	StaleAfterSeconds int `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
	// CompletionTTLSeconds is how long a completion record stays visible
	CompletionTTLSeconds int `mapstructure:"completion_ttl_seconds" yaml:"completion_ttl_seconds"`
}

// TrackerConfig controls change detection
type TrackerConfig struct {
	// HashThresholdBytes is the size at or above which files are fingerprinted by mtime
	HashThresholdBytes int64 `mapstructure:"hash_threshold_bytes" yaml:"hash_threshold_bytes"`
	// Ignore lists extra gitignore-style patterns excluded from the walk
	Ignore []string `mapstructure:"ignore" yaml:"ignore"`
	// UseGitignore applies the project's root .gitignore
	UseGitignore bool `mapstructure:"use_gitignore" yaml:"use_gitignore"`
	// HashWorkers bounds concurrent file hashing
	HashWorkers int `mapstructure:"hash_workers" yaml:"hash_workers"`
}

// ProfilerConfig controls project size classification
type ProfilerConfig struct {
	// SmallMaxFiles: projects with fewer files are small
	SmallMaxFiles int `mapstructure:"small_max_files" yaml:"small_max_files"`
	// MediumMaxFiles: projects with fewer files (and not small) are medium
	MediumMaxFiles int `mapstructure:"medium_max_files" yaml:"medium_max_files"`
	// SmallTimeoutSeconds is the suggested agent timeout for small projects
	SmallTimeoutSeconds int `mapstructure:"small_timeout_seconds" yaml:"small_timeout_seconds"`
	// MediumTimeoutSeconds is the suggested agent timeout for medium projects
	MediumTimeoutSeconds int `mapstructure:"medium_timeout_seconds" yaml:"medium_timeout_seconds"`
	// LargeTimeoutSeconds is the suggested agent timeout for large projects
	LargeTimeoutSeconds int `mapstructure:"large_timeout_seconds" yaml:"large_timeout_seconds"`
	// LineGlobs selects files whose lines are counted
	LineGlobs []string `mapstructure:"line_globs" yaml:"line_globs"`
}

// OrchestratorConfig controls agent scheduling
type OrchestratorConfig struct {
	// OverallBudgetSeconds is the hard wall-clock ceiling for one run
	OverallBudgetSeconds int `mapstructure:"overall_budget_seconds" yaml:"overall_budget_seconds"`
	// MaxParallel bounds concurrent agents within a phase
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
}

// DefaultSkipPatterns are request prefixes that rarely benefit from background analysis.
func DefaultSkipPatterns() []string {
	return []string{
		"what is",
		"how do i",
		"explain",
		"can you help me understand",
		"what does",
		"tell me about",
		"show me",
		"list",
		"where is",
		"why does",
		"when should",
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			CacheDir:   ".band_cache",
			PromptsDir: filepath.Join(".claude", "band", "prompts"),
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 2,
		},
		Invoker: InvokerConfig{
			Backend:         "cli",
			Command:         "claude",
			SkipPermissions: true,
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxTokens:       4096,
			Models: map[string]string{
				"haiku":  "claude-haiku-4-5",
				"sonnet": "claude-sonnet-4-5",
				"opus":   "claude-opus-4-1",
			},
		},
		Conductor: ConductorConfig{
			Enabled:           true,
			Model:             "haiku",
			TimeoutSeconds:    10,
			MaxTimeoutSeconds: 300,
			SkipPatterns:      DefaultSkipPatterns(),
		},
		Agents: map[string]AgentConfig{
			"john":     {Model: "sonnet", TimeoutSeconds: 180},
			"george":   {Model: "sonnet", TimeoutSeconds: 120},
			"paul":     {Model: "opus", TimeoutSeconds: 120},
			"gilfoyle": {TimeoutSeconds: 30},
			"pete":     {Model: "sonnet", TimeoutSeconds: 180},
			"ringo":    {Model: "sonnet", TimeoutSeconds: 240},
			"marie":    {Model: "haiku", TimeoutSeconds: 300},
		},
		Hooks: HooksConfig{
			PromptAgents:       []string{"john", "george", "paul", "pete", "ringo"},
			StopAgents:         []string{"john", "george", "gilfoyle", "pete", "marie"},
			StopTimeoutSeconds: 600,
			MaxReportBytes:     16 * 1024,
		},
		Locks: LocksConfig{
			StaleAfterSeconds:    600,
			CompletionTTLSeconds: 60,
		},
		Tracker: TrackerConfig{
			HashThresholdBytes: 1024 * 1024,
			Ignore:             []string{},
			UseGitignore:       true,
			HashWorkers:        8,
		},
		Profiler: ProfilerConfig{
			SmallMaxFiles:        100,
			MediumMaxFiles:       500,
			SmallTimeoutSeconds:  60,
			MediumTimeoutSeconds: 120,
			LargeTimeoutSeconds:  180,
			LineGlobs: []string{
				"**.go", "**.py", "**.js", "**.jsx", "**.ts", "**.tsx",
				"**.java", "**.kt", "**.rs", "**.rb", "**.swift",
				"**.c", "**.h", "**.cpp", "**.cs", "**.md",
			},
		},
		Orchestrator: OrchestratorConfig{
			OverallBudgetSeconds: 600,
			MaxParallel:          4,
		},
	}
}

// Seconds converts a whole-second config value to a time.Duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Agent returns the settings for the named agent, or the zero value.
func (c *Config) Agent(name string) AgentConfig {
	return c.Agents[name]
}

// AgentNames returns the configured agent names in sorted order.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheDir resolves paths.cache_dir against projectDir.
func (c *Config) CacheDir(projectDir string) string {
	return resolve(projectDir, c.Paths.CacheDir)
}

// PromptsDir resolves paths.prompts_dir against projectDir.
func (c *Config) PromptsDir(projectDir string) string {
	return resolve(projectDir, c.Paths.PromptsDir)
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.cache_dir", defaults.Paths.CacheDir)
	viper.SetDefault("paths.prompts_dir", defaults.Paths.PromptsDir)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Invoker defaults
	viper.SetDefault("invoker.backend", defaults.Invoker.Backend)
	viper.SetDefault("invoker.command", defaults.Invoker.Command)
	viper.SetDefault("invoker.skip_permissions", defaults.Invoker.SkipPermissions)
	viper.SetDefault("invoker.api_key_env", defaults.Invoker.APIKeyEnv)
	viper.SetDefault("invoker.max_tokens", defaults.Invoker.MaxTokens)
	for alias, model := range defaults.Invoker.Models {
		viper.SetDefault("invoker.models."+alias, model)
	}

	// Conductor defaults
	viper.SetDefault("conductor.enabled", defaults.Conductor.Enabled)
	viper.SetDefault("conductor.model", defaults.Conductor.Model)
	viper.SetDefault("conductor.timeout_seconds", defaults.Conductor.TimeoutSeconds)
	viper.SetDefault("conductor.max_timeout_seconds", defaults.Conductor.MaxTimeoutSeconds)
	viper.SetDefault("conductor.skip_patterns", defaults.Conductor.SkipPatterns)

	// Agent defaults
	for name, agent := range defaults.Agents {
		viper.SetDefault("agents."+name+".model", agent.Model)
		viper.SetDefault("agents."+name+".timeout_seconds", agent.TimeoutSeconds)
		viper.SetDefault("agents."+name+".template", agent.Template)
	}

	// Hooks defaults
	viper.SetDefault("hooks.prompt_agents", defaults.Hooks.PromptAgents)
	viper.SetDefault("hooks.stop_agents", defaults.Hooks.StopAgents)
	viper.SetDefault("hooks.stop_timeout_seconds", defaults.Hooks.StopTimeoutSeconds)
	viper.SetDefault("hooks.max_report_bytes", defaults.Hooks.MaxReportBytes)

	// Locks defaults
	viper.SetDefault("locks.stale_after_seconds", defaults.Locks.StaleAfterSeconds)
	viper.SetDefault("locks.completion_ttl_seconds", defaults.Locks.CompletionTTLSeconds)

	// Tracker defaults
	viper.SetDefault("tracker.hash_threshold_bytes", defaults.Tracker.HashThresholdBytes)
	viper.SetDefault("tracker.ignore", defaults.Tracker.Ignore)
	viper.SetDefault("tracker.use_gitignore", defaults.Tracker.UseGitignore)
	viper.SetDefault("tracker.hash_workers", defaults.Tracker.HashWorkers)

	// Profiler defaults
	viper.SetDefault("profiler.small_max_files", defaults.Profiler.SmallMaxFiles)
	viper.SetDefault("profiler.medium_max_files", defaults.Profiler.MediumMaxFiles)
	viper.SetDefault("profiler.small_timeout_seconds", defaults.Profiler.SmallTimeoutSeconds)
	viper.SetDefault("profiler.medium_timeout_seconds", defaults.Profiler.MediumTimeoutSeconds)
	viper.SetDefault("profiler.large_timeout_seconds", defaults.Profiler.LargeTimeoutSeconds)
	viper.SetDefault("profiler.line_globs", defaults.Profiler.LineGlobs)

	// Orchestrator defaults
	viper.SetDefault("orchestrator.overall_budget_seconds", defaults.Orchestrator.OverallBudgetSeconds)
	viper.SetDefault("orchestrator.max_parallel", defaults.Orchestrator.MaxParallel)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "band")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".band"
	}
	return filepath.Join(home, ".config", "band")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ProjectConfigFile is the per-project config file name, read from the
// working directory after the user config.
const ProjectConfigFile = ".band.yaml"
