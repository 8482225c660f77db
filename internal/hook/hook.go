// Package hook speaks the host's hook protocol: it decodes the event payload
// read from stdin and writes the response to stdout.
package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ciatc/band/internal/util"
)

// Event names the host sends.
const (
	EventUserPromptSubmit = "UserPromptSubmit"
	EventStop             = "Stop"
)

// DefaultMaxBytes bounds supplementary text when no limit is configured.
const DefaultMaxBytes = 64 * 1024

const truncatedMarker = "\n[truncated]"

// Event is the subset of a hook payload band reads.
type Event struct {
	Name           string `json:"hook_event_name"`
	Prompt         string `json:"prompt,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// ParseEvent decodes a hook payload. Unknown fields are ignored.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if len(bytes.TrimSpace(payload)) == 0 {
		return ev, fmt.Errorf("empty hook payload")
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to parse hook payload: %w", err)
	}
	return ev, nil
}

// Response is what a hook hands back to the host.
type Response struct {
	// Structured is echoed verbatim, apart from surrounding whitespace.
	Structured json.RawMessage
	// SupplementaryText is appended after a blank line when non-empty.
	SupplementaryText string
}

// Writer serializes responses.
type Writer struct {
	// MaxBytes caps the supplementary text, marker included.
	MaxBytes int
}

// NewWriter creates a Writer with the given cap; non-positive means
// DefaultMaxBytes.
func NewWriter(maxBytes int) *Writer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Writer{MaxBytes: maxBytes}
}

// Format renders r as it would be written.
func (w *Writer) Format(r Response) []byte {
	var buf bytes.Buffer
	buf.Write(bytes.TrimSpace(r.Structured))

	text := strings.TrimSpace(util.Sanitize(r.SupplementaryText))
	if text == "" {
		return buf.Bytes()
	}
	max := w.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}
	if buf.Len() > 0 {
		buf.WriteString("\n\n")
	}
	buf.WriteString(util.TruncateBytes(text, max, truncatedMarker))
	return buf.Bytes()
}

// Write writes r to out in a single call.
func (w *Writer) Write(out io.Writer, r Response) error {
	if _, err := out.Write(w.Format(r)); err != nil {
		return fmt.Errorf("failed to write hook response: %w", err)
	}
	return nil
}
