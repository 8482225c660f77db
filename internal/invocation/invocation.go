// Package invocation carries the identity of one band hook invocation.
//
// A Context is created once at the process boundary and passed down by
// argument. The only cross-process channel is the environment handed to
// child processes that band spawns (model CLIs): it carries the parent's
// invocation id so that a hook fired inside such a child recognises itself
// as re-entrant. band never sets the variable in its own environment.
package invocation

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// EnvVar names the environment variable set on spawned children.
const EnvVar = "BAND_INVOCATION_ID"

// Context identifies a hook invocation.
type Context struct {
	// ID is unique per invocation and is used as the run id in logs.
	ID string
	// Parent is the invocation id inherited from a spawning band process, if any.
	Parent string
	// Reentrant is true when this process was started (transitively) by band
	// itself. Re-entrant invocations must not run agents.
	Reentrant bool
}

// New creates a top-level invocation context.
func New() Context {
	return Context{ID: uuid.NewString()}
}

// FromEnviron derives the invocation context from a process environment in
// os.Environ form. It is called once in main; nothing else reads EnvVar.
func FromEnviron(environ []string) Context {
	ctx := New()
	prefix := EnvVar + "="
	for _, kv := range environ {
		if v, ok := strings.CutPrefix(kv, prefix); ok && v != "" {
			ctx.Parent = v
			ctx.Reentrant = true
		}
	}
	return ctx
}

// FromProcess is FromEnviron(os.Environ()).
func FromProcess() Context {
	return FromEnviron(os.Environ())
}

// ChildEnv returns base with EnvVar set to this invocation's id, replacing
// any inherited value. base is not modified.
func (c Context) ChildEnv(base []string) []string {
	prefix := EnvVar + "="
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		env = append(env, kv)
	}
	return append(env, prefix+c.ID)
}

// ShortID returns the first eight characters of the id for display.
func (c Context) ShortID() string {
	if len(c.ID) <= 8 {
		return c.ID
	}
	return c.ID[:8]
}
