package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgentError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AgentError
		want string
	}{
		{
			name: "no context",
			err:  NewAgentError("invoke failed", nil),
			want: "agent error: invoke failed",
		},
		{
			name: "agent and phase",
			err:  NewAgentError("invoke failed", ErrInvocationFailed).WithAgent("pete").WithPhase(2),
			want: "agent error [agent=pete, phase=2]: invoke failed: invocation failed",
		},
		{
			name: "agent only",
			err:  NewAgentError("boom", nil).WithAgent("john"),
			want: "agent error [agent=john]: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgentError_IsAndAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewAgentError("invoke failed", ErrInvocationFailed).WithAgent("ringo"))

	if !Is(err, ErrInvocationFailed) {
		t.Error("errors.Is should find the sentinel cause")
	}
	if !Is(err, &AgentError{}) {
		t.Error("errors.Is should match the AgentError type")
	}

	var agentErr *AgentError
	if !As(err, &agentErr) {
		t.Fatal("errors.As should extract AgentError")
	}
	if agentErr.Agent != "ringo" {
		t.Errorf("Agent = %q, want %q", agentErr.Agent, "ringo")
	}
}

func TestClassifierError_WithRawTruncates(t *testing.T) {
	raw := make([]byte, 500)
	for i := range raw {
		raw[i] = 'x'
	}
	err := NewClassifierError("bad response", ErrClassifierResponse).WithRaw(string(raw))

	if len(err.Raw) != 203 {
		t.Errorf("len(Raw) = %d, want 203", len(err.Raw))
	}
	if !Is(err, ErrClassifierResponse) {
		t.Error("ClassifierError should match its cause")
	}
	if GetSeverity(err) != SeverityWarning {
		t.Errorf("GetSeverity = %v, want warning", GetSeverity(err))
	}
}

func TestGateError_Error(t *testing.T) {
	err := NewGateError("read lock", ErrRecordCorrupted).WithAgent("john").WithPath("/tmp/john.lock")
	want := "gate error [agent=john, path=/tmp/john.lock]: read lock: record corrupted"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("agent john", 2*time.Second)

	if err.Error() != "agent john timed out after 2s" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should be true for TimeoutError")
	}
	if !IsRetryable(err) {
		t.Error("TimeoutError should be retryable")
	}
}

func TestClassificationHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		timeout   bool
		canceled  bool
		retryable bool
	}{
		{"nil", nil, false, false, false},
		{"deadline", context.DeadlineExceeded, true, false, true},
		{"canceled", context.Canceled, false, true, false},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true, false, true},
		{"plain", errors.New("plain"), false, false, false},
		{"gate error", NewGateError("x", nil), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.timeout {
				t.Errorf("IsTimeout = %v, want %v", got, tt.timeout)
			}
			if got := IsCanceled(tt.err); got != tt.canceled {
				t.Errorf("IsCanceled = %v, want %v", got, tt.canceled)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestGetSeverity_Default(t *testing.T) {
	if got := GetSeverity(errors.New("x")); got != SeverityError {
		t.Errorf("GetSeverity = %v, want error", got)
	}
}
