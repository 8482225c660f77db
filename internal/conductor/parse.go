package conductor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/errors"
)

var codeFenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n?(.*?)\n?```")

var requiredKeys = []string{"should_run", "agents", "timeout", "priority", "reason"}

// response is the classifier's JSON contract.
type response struct {
	ShouldRun bool        `json:"should_run"`
	Agents    []string    `json:"agents"`
	Timeout   json.Number `json:"timeout"`
	Priority  string      `json:"priority"`
	Reason    string      `json:"reason"`
}

// extractJSON pulls the first JSON object out of a model reply, tolerating
// markdown fences and surrounding prose.
func extractJSON(raw string) (string, bool) {
	content := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// parseResponse validates a classifier reply against the contract. Agents
// are restricted to candidates and returned in registry order; the timeout
// is clamped to maxTimeout.
func parseResponse(raw string, reg *agent.Registry, candidates []agent.ID, maxTimeout int) (Decision, error) {
	fail := func(msg string, cause error) (Decision, error) {
		return Decision{}, errors.NewClassifierError(msg, errors.Join(errors.ErrClassifierResponse, cause)).WithRaw(raw)
	}

	obj, ok := extractJSON(raw)
	if !ok {
		return fail("no JSON object in response", nil)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &keys); err != nil {
		return fail("response is not valid JSON", err)
	}
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fail(fmt.Sprintf("missing keys: %s", strings.Join(missing, ", ")), nil)
	}

	// Presence is not enough: null would decode to a zero value.
	kinds := map[string]byte{
		"should_run": 'b',
		"agents":     '[',
		"timeout":    '0',
		"priority":   '"',
		"reason":     '"',
	}
	for _, k := range requiredKeys {
		if !hasKind(keys[k], kinds[k]) {
			return fail(fmt.Sprintf("%s has the wrong type: %s", k, keys[k]), nil)
		}
	}

	var r response
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return fail("response has wrong field types", err)
	}

	priority := Priority(strings.ToLower(strings.TrimSpace(r.Priority)))
	if !priority.Valid() {
		return fail(fmt.Sprintf("unknown priority %q", r.Priority), nil)
	}

	timeout, err := r.Timeout.Int64()
	if err != nil {
		return fail(fmt.Sprintf("timeout %q is not an integer", r.Timeout), err)
	}
	if timeout < 0 {
		return fail(fmt.Sprintf("timeout %d is negative", timeout), nil)
	}

	if !r.ShouldRun {
		return Decision{Priority: priority, Reason: r.Reason, Source: SourceClassifier}, nil
	}

	if timeout == 0 {
		return fail("timeout must be positive when should_run is true", nil)
	}
	if maxTimeout > 0 && timeout > int64(maxTimeout) {
		timeout = int64(maxTimeout)
	}

	allowed := make(map[agent.ID]bool, len(candidates))
	for _, c := range candidates {
		allowed[c] = true
	}
	ids, err := agent.ParseAll(r.Agents)
	if err != nil {
		return fail("response names an unknown agent", err)
	}
	for _, id := range ids {
		if !allowed[id] {
			return fail(fmt.Sprintf("agent %s is not a candidate", id), errors.ErrUnknownAgent)
		}
	}
	known, _ := reg.Canonical(ids)
	if len(known) == 0 {
		return fail("should_run is true but no agents were selected", nil)
	}

	return Decision{
		ShouldRun:      true,
		Agents:         known,
		TimeoutSeconds: int(timeout),
		Priority:       priority,
		Reason:         r.Reason,
		Source:         SourceClassifier,
	}, nil
}

// hasKind reports whether raw is a JSON value of the given kind: 'b' for a
// boolean, '0' for a number, '"' for a string, '[' for an array.
func hasKind(raw json.RawMessage, kind byte) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch kind {
	case 'b':
		return bytes.Equal(v, []byte("true")) || bytes.Equal(v, []byte("false"))
	case '0':
		return v[0] == '-' || (v[0] >= '0' && v[0] <= '9')
	default:
		return v[0] == kind
	}
}
