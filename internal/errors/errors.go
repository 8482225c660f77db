// Package errors provides centralized error definitions and error handling
// utilities for band. It defines domain sentinels, typed errors carrying
// agent and classifier context, and classification helpers.
//
// # Error Types
//
// Domain-specific errors:
//   - AgentError: an agent invocation failed, timed out, or panicked
//   - ClassifierError: the conductor's classifier call or response was unusable
//   - GateError: a lock or completion record could not be read or written
//
// Semantic errors:
//   - TimeoutError: an operation exceeded its time budget
//
// # Usage
//
//	err := errors.NewAgentError("invoke failed", cause).WithAgent("john").WithPhase(1)
//	if errors.Is(err, errors.ErrInvocationFailed) { ... }
//
//	var agentErr *errors.AgentError
//	if errors.As(err, &agentErr) { ... }
//
// # Recovery
//
// None of these errors are meant to reach the host. Classifier errors are
// recovered by the conductor's fallback policy, lock contention is reported
// as a skipped agent, and agent errors become failure results in the report.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Gate-related sentinel errors
var (
	// ErrAlreadyHeld indicates that another live process holds an agent's lock.
	ErrAlreadyHeld = New("agent lock already held")
	// ErrNotOwner indicates an attempt to release a lock owned by someone else.
	ErrNotOwner = New("lock not owned by caller")
	// ErrRecordCorrupted indicates that a lock or completion record is unreadable.
	ErrRecordCorrupted = New("record corrupted")
)

// Classification sentinel errors
var (
	// ErrClassifierUnavailable indicates the classifier call itself failed.
	ErrClassifierUnavailable = New("classifier unavailable")
	// ErrClassifierResponse indicates the classifier answered outside its contract.
	ErrClassifierResponse = New("classifier response invalid")
)

// Agent sentinel errors
var (
	// ErrUnknownAgent indicates an agent identity that is not registered.
	ErrUnknownAgent = New("unknown agent")
	// ErrDependencyCycle indicates a circular dependency between agents.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrInvocationFailed indicates that a model invocation returned an error.
	ErrInvocationFailed = New("invocation failed")
	// ErrAgentPanicked indicates that an agent handler panicked.
	ErrAgentPanicked = New("agent panicked")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func formatPrefixed(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// AgentError represents a failed agent execution.
//
// Example:
//
//	err := errors.NewAgentError("invoke failed", errors.ErrInvocationFailed)
//	err = err.WithAgent("pete").WithPhase(2)
//	fmt.Println(err) // "agent error [agent=pete, phase=2]: invoke failed: invocation failed"
type AgentError struct {
	baseError
	Agent string
	Phase int
}

// NewAgentError creates a new AgentError.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
	}
}

// WithAgent adds the agent name to the error context.
func (e *AgentError) WithAgent(name string) *AgentError {
	e.Agent = name
	return e
}

// WithPhase adds the phase number to the error context.
func (e *AgentError) WithPhase(phase int) *AgentError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	var parts []string
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.Phase > 0 {
		parts = append(parts, fmt.Sprintf("phase=%d", e.Phase))
	}
	return formatPrefixed("agent error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *AgentError) Is(target error) bool {
	if _, ok := target.(*AgentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ClassifierError represents a classifier call or response that could not
// be turned into a decision. Raw holds a prefix of the offending response.
type ClassifierError struct {
	baseError
	Raw string
}

// NewClassifierError creates a new ClassifierError.
func NewClassifierError(message string, cause error) *ClassifierError {
	return &ClassifierError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
	}
}

// WithRaw attaches (a bounded prefix of) the raw classifier response.
func (e *ClassifierError) WithRaw(raw string) *ClassifierError {
	const maxRaw = 200
	if len(raw) > maxRaw {
		raw = raw[:maxRaw] + "..."
	}
	e.Raw = raw
	return e
}

// Error returns the formatted error message.
func (e *ClassifierError) Error() string {
	return formatPrefixed("classifier error", nil, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ClassifierError) Is(target error) bool {
	if _, ok := target.(*ClassifierError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GateError represents a failure reading or writing coordination records.
type GateError struct {
	baseError
	Agent string
	Path  string
}

// NewGateError creates a new GateError.
func NewGateError(message string, cause error) *GateError {
	return &GateError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityWarning,
		},
	}
}

// WithAgent adds the agent name to the error context.
func (e *GateError) WithAgent(name string) *GateError {
	e.Agent = name
	return e
}

// WithPath adds the record path to the error context.
func (e *GateError) WithPath(path string) *GateError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *GateError) Error() string {
	var parts []string
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatPrefixed("gate error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *GateError) Is(target error) bool {
	if _, ok := target.(*GateError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// TimeoutError indicates that an operation exceeded its time budget.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   fmt.Sprintf("%s timed out after %s", operation, d),
			cause:     ErrTimeout,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  d,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return e.message
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsTimeout reports whether err represents a timeout, including context
// deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err represents cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsRetryable reports whether err is transient and a future request may
// succeed where this one failed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return IsTimeout(err)
}

// GetSeverity returns the severity of err, defaulting to SeverityError for
// errors that do not carry one.
func GetSeverity(err error) Severity {
	var s interface{ Severity() Severity }
	if errors.As(err, &s) {
		return s.Severity()
	}
	return SeverityError
}
