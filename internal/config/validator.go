package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "locks.stale_after_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// agentNameRegex matches names usable as lock and prompt file stems
var agentNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackends returns the list of valid invoker backends
func ValidBackends() []string {
	return []string{"cli", "api"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateInvoker()...)
	errors = append(errors, c.validateConductor()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateHooks()...)
	errors = append(errors, c.validateLocks()...)
	errors = append(errors, c.validateTracker()...)
	errors = append(errors, c.validateProfiler()...)
	errors = append(errors, c.validateOrchestrator()...)

	return errors
}

func positive(field string, v int) []ValidationError {
	if v <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
	}
	return nil
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "paths.cache_dir",
			Value:   c.Paths.CacheDir,
			Message: "must not be empty",
		})
	}

	for field, path := range map[string]string{
		"paths.cache_dir":   c.Paths.CacheDir,
		"paths.prompts_dir": c.Paths.PromptsDir,
	} {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateInvoker validates the InvokerConfig
func (c *Config) validateInvoker() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Invoker.Backend) {
		errors = append(errors, ValidationError{
			Field:   "invoker.backend",
			Value:   c.Invoker.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if c.Invoker.Backend == "cli" && strings.TrimSpace(c.Invoker.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "invoker.command",
			Value:   c.Invoker.Command,
			Message: "must not be empty for the cli backend",
		})
	}

	if c.Invoker.Backend == "api" {
		errors = append(errors, positive("invoker.max_tokens", c.Invoker.MaxTokens)...)
		if c.Invoker.APIKeyEnv == "" {
			errors = append(errors, ValidationError{
				Field:   "invoker.api_key_env",
				Value:   c.Invoker.APIKeyEnv,
				Message: "must name an environment variable for the api backend",
			})
		}
	}

	return errors
}

// validateConductor validates the ConductorConfig
func (c *Config) validateConductor() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("conductor.timeout_seconds", c.Conductor.TimeoutSeconds)...)
	errors = append(errors, positive("conductor.max_timeout_seconds", c.Conductor.MaxTimeoutSeconds)...)

	if c.Conductor.Enabled && c.Conductor.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "conductor.model",
			Value:   c.Conductor.Model,
			Message: "must be set when the conductor is enabled",
		})
	}

	for i, p := range c.Conductor.SkipPatterns {
		if strings.TrimSpace(p) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("conductor.skip_patterns[%d]", i),
				Value:   p,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateAgents validates per-agent settings
func (c *Config) validateAgents() []ValidationError {
	var errors []ValidationError

	for _, name := range c.AgentNames() {
		a := c.Agents[name]
		if !agentNameRegex.MatchString(name) {
			errors = append(errors, ValidationError{
				Field:   "agents." + name,
				Value:   name,
				Message: "agent names must be lowercase letters, digits, '-' or '_'",
			})
		}
		errors = append(errors, positive("agents."+name+".timeout_seconds", a.TimeoutSeconds)...)
		if strings.ContainsAny(a.Template, `/\`) {
			errors = append(errors, ValidationError{
				Field:   "agents." + name + ".template",
				Value:   a.Template,
				Message: "must be a file name inside paths.prompts_dir",
			})
		}
	}

	return errors
}

// validateHooks validates the HooksConfig
func (c *Config) validateHooks() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("hooks.stop_timeout_seconds", c.Hooks.StopTimeoutSeconds)...)
	errors = append(errors, positive("hooks.max_report_bytes", c.Hooks.MaxReportBytes)...)

	for field, names := range map[string][]string{
		"hooks.prompt_agents": c.Hooks.PromptAgents,
		"hooks.stop_agents":   c.Hooks.StopAgents,
	} {
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			if seen[name] {
				errors = append(errors, ValidationError{
					Field:   field,
					Value:   name,
					Message: "duplicate agent",
				})
			}
			seen[name] = true
		}
	}

	return errors
}

// validateLocks validates the LocksConfig
func (c *Config) validateLocks() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("locks.stale_after_seconds", c.Locks.StaleAfterSeconds)...)
	errors = append(errors, positive("locks.completion_ttl_seconds", c.Locks.CompletionTTLSeconds)...)
	return errors
}

// validateTracker validates the TrackerConfig
func (c *Config) validateTracker() []ValidationError {
	var errors []ValidationError

	if c.Tracker.HashThresholdBytes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tracker.hash_threshold_bytes",
			Value:   c.Tracker.HashThresholdBytes,
			Message: "must be positive",
		})
	}
	errors = append(errors, positive("tracker.hash_workers", c.Tracker.HashWorkers)...)

	return errors
}

// validateProfiler validates the ProfilerConfig
func (c *Config) validateProfiler() []ValidationError {
	var errors []ValidationError
	p := c.Profiler

	errors = append(errors, positive("profiler.small_max_files", p.SmallMaxFiles)...)
	if p.MediumMaxFiles <= p.SmallMaxFiles {
		errors = append(errors, ValidationError{
			Field:   "profiler.medium_max_files",
			Value:   p.MediumMaxFiles,
			Message: "must be greater than profiler.small_max_files",
		})
	}
	errors = append(errors, positive("profiler.small_timeout_seconds", p.SmallTimeoutSeconds)...)
	errors = append(errors, positive("profiler.medium_timeout_seconds", p.MediumTimeoutSeconds)...)
	errors = append(errors, positive("profiler.large_timeout_seconds", p.LargeTimeoutSeconds)...)

	for i, g := range p.LineGlobs {
		if _, err := glob.Compile(g, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("profiler.line_globs[%d]", i),
				Value:   g,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	return errors
}

// validateOrchestrator validates the OrchestratorConfig
func (c *Config) validateOrchestrator() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("orchestrator.overall_budget_seconds", c.Orchestrator.OverallBudgetSeconds)...)
	errors = append(errors, positive("orchestrator.max_parallel", c.Orchestrator.MaxParallel)...)
	return errors
}
