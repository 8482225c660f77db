// Package lockgate provides per-agent mutual exclusion across processes.
//
// Each agent has a lock record at <dir>/<agent>.lock holding the owner's
// pid, acquisition time and host. A record is live while its owner process
// runs and it is younger than the staleness threshold; anything else is
// abandoned and reclaimed by the next caller. Records from another host
// cannot have their pid checked and stay live until stale by age.
//
// Acquisition for one agent is serialized by a flock on <agent>.guard, and
// the record is published with link(2) of a fully written temporary file,
// so readers never see a partial record and two callers never both win.
// Releasing writes <agent>.done, a completion record that readers ignore and
// delete once it is older than the completion TTL.
package lockgate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/errors"
	"github.com/ciatc/band/internal/fsutil"
	"github.com/ciatc/band/internal/logging"
)

// DirName is the lock directory inside the cache directory.
const DirName = "locks"

const (
	lockExt  = ".lock"
	doneExt  = ".done"
	guardExt = ".guard"

	// sweepGuard serializes CleanStale across processes. The leading dot
	// keeps it out of the agent name space.
	sweepGuard = ".sweep" + guardExt
)

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// AlreadyHeldError reports a live lock held by someone else.
type AlreadyHeldError struct {
	Agent  string
	PID    int
	HostID string
	Age    time.Duration
}

func (e *AlreadyHeldError) Error() string {
	return fmt.Sprintf("%s: %s held by pid %d on %s for %s",
		errors.ErrAlreadyHeld, e.Agent, e.PID, e.HostID, e.Age.Round(time.Second))
}

// Is matches errors.ErrAlreadyHeld.
func (e *AlreadyHeldError) Is(target error) bool {
	return target == errors.ErrAlreadyHeld
}

// Gate hands out per-agent locks in one lock directory.
type Gate struct {
	dir           string
	pid           int
	hostID        string
	now           func() time.Time
	alive         func(pid int) bool
	staleAfter    time.Duration
	completionTTL time.Duration
	logger        *logging.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithPID sets the pid written into records. Tests use it to simulate
// several processes.
func WithPID(pid int) Option { return func(g *Gate) { g.pid = pid } }

// WithHostID sets the host written into records.
func WithHostID(id string) Option { return func(g *Gate) { g.hostID = id } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithProcessChecker replaces the pid liveness probe.
func WithProcessChecker(alive func(pid int) bool) Option {
	return func(g *Gate) { g.alive = alive }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(g *Gate) { g.logger = l } }

// New creates a Gate over dir using the thresholds in cfg.
func New(dir string, cfg config.LocksConfig, opts ...Option) *Gate {
	g := &Gate{
		dir:           dir,
		pid:           os.Getpid(),
		hostID:        hostID(),
		now:           time.Now,
		alive:         ProcessAlive,
		staleAfter:    config.Seconds(cfg.StaleAfterSeconds),
		completionTTL: config.Seconds(cfg.CompletionTTLSeconds),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "lockgate")
	return g
}

// Dir returns the lock directory.
func (g *Gate) Dir() string { return g.dir }

func (g *Gate) lockPath(name string) string  { return filepath.Join(g.dir, name+lockExt) }
func (g *Gate) donePath(name string) string  { return filepath.Join(g.dir, name+doneExt) }
func (g *Gate) guardPath(name string) string { return filepath.Join(g.dir, name+guardExt) }

// live reports whether rec still holds its lock.
func (g *Gate) live(rec Record) bool {
	if g.now().Sub(rec.Acquired()) >= g.staleAfter {
		return false
	}
	if rec.HostID != g.hostID {
		return true
	}
	return g.alive(rec.ProcessID)
}

func (g *Gate) withGuard(name string, fn func() error) error {
	guard := fsutil.NewFileLock(g.guardPath(name))
	if err := guard.Lock(); err != nil {
		return errors.NewGateError("lock guard", err).WithAgent(name).WithPath(guard.Path())
	}
	defer func() { _ = guard.Unlock() }()
	return fn()
}

// TryAcquire takes the lock for name without waiting. A live lock held by
// anyone, including this process, yields an *AlreadyHeldError.
func (g *Gate) TryAcquire(name string) (*Lock, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: lock name %q", errors.ErrInvalidInput, name)
	}

	var lock *Lock
	err := g.withGuard(name, func() error {
		path := g.lockPath(name)

		existing, err := readRecord(path)
		switch {
		case err == nil && g.live(existing):
			return g.heldError(name, existing)
		case err == nil:
			g.logger.Warn("reclaiming stale lock",
				"agent", name,
				"old_pid", existing.ProcessID,
				"host", existing.HostID,
				"age", g.now().Sub(existing.Acquired()).Round(time.Second).String())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.NewGateError("remove stale lock", err).WithAgent(name).WithPath(path)
			}
		case errors.Is(err, errors.ErrRecordCorrupted):
			g.logger.Warn("reclaiming unreadable lock", "agent", name, "error", err)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.NewGateError("remove corrupt lock", err).WithAgent(name).WithPath(path)
			}
		case !os.IsNotExist(err):
			return errors.NewGateError("read lock", err).WithAgent(name).WithPath(path)
		}

		rec := Record{ProcessID: g.pid, AcquiredAt: epoch(g.now()), HostID: g.hostID}
		data, err := marshal(rec)
		if err != nil {
			return err
		}
		if err := fsutil.CreateExclusive(path, data, 0644); err != nil {
			if os.IsExist(err) {
				// Published by a writer outside the guard.
				if other, readErr := readRecord(path); readErr == nil {
					return g.heldError(name, other)
				}
				return &AlreadyHeldError{Agent: name}
			}
			return errors.NewGateError("create lock", err).WithAgent(name).WithPath(path)
		}

		lock = &Lock{gate: g, name: name, record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Debug("lock acquired", "agent", name, "pid", g.pid)
	return lock, nil
}

func (g *Gate) heldError(name string, rec Record) error {
	return &AlreadyHeldError{
		Agent:  name,
		PID:    rec.ProcessID,
		HostID: rec.HostID,
		Age:    max(g.now().Sub(rec.Acquired()), 0),
	}
}

// Lock is an acquired agent lock.
type Lock struct {
	gate     *Gate
	name     string
	record   Record
	released bool
}

// Agent returns the locked agent name.
func (l *Lock) Agent() string { return l.name }

// Record returns the record this lock published.
func (l *Lock) Record() Record { return l.record }

// Release writes the completion record and removes the lock. If the lock
// was reclaimed by someone else in the meantime, nothing is written and
// the error matches errors.ErrNotOwner. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	g := l.gate

	return g.withGuard(l.name, func() error {
		path := g.lockPath(l.name)
		current, err := readRecord(path)
		if err != nil || current != l.record {
			g.logger.Warn("lock no longer owned at release", "agent", l.name)
			return fmt.Errorf("%w: %s", errors.ErrNotOwner, l.name)
		}

		now := g.now()
		done := Completion{
			CompletedAt:     epoch(now),
			DurationSeconds: now.Sub(l.record.Acquired()).Seconds(),
		}
		if err := fsutil.WriteJSONAtomic(g.donePath(l.name), done); err != nil {
			g.logger.Warn("failed to write completion record", "agent", l.name, "error", err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewGateError("remove lock", err).WithAgent(l.name).WithPath(path)
		}
		g.logger.Debug("lock released", "agent", l.name, "duration_seconds", done.DurationSeconds)
		return nil
	})
}

// State is what Status reports for one agent.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Entry is one line of Status.
type Entry struct {
	Agent  string
	State  State
	PID    int
	HostID string
	// Since is the acquisition time for running agents and the completion
	// time for completed ones.
	Since time.Time
	// Duration is the run time of a completed agent.
	Duration time.Duration
}

// Status lists live locks and unexpired completion records, sorted by
// agent. Malformed or stale locks are reported as not running; expired or
// malformed completion records are deleted.
func (g *Gate) Status() ([]Entry, error) {
	names, err := g.names()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, name := range names {
		if rec, err := readRecord(g.lockPath(name)); err == nil && g.live(rec) {
			entries = append(entries, Entry{
				Agent:  name,
				State:  StateRunning,
				PID:    rec.ProcessID,
				HostID: rec.HostID,
				Since:  rec.Acquired(),
			})
			continue
		}
		if c, ok := g.completion(name); ok {
			entries = append(entries, Entry{
				Agent:    name,
				State:    StateCompleted,
				Since:    c.Completed(),
				Duration: c.Duration(),
			})
		}
	}
	return entries, nil
}

// completion returns the unexpired completion record for name, deleting
// it when expired or unreadable.
func (g *Gate) completion(name string) (Completion, bool) {
	path := g.donePath(name)
	c, err := readCompletion(path)
	if os.IsNotExist(err) {
		return c, false
	}
	if err != nil || g.now().Sub(c.Completed()) > g.completionTTL {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			g.logger.Debug("failed to remove completion record", "agent", name, "error", rmErr)
		}
		return c, false
	}
	return c, true
}

// Running reports whether name currently holds a live lock.
func (g *Gate) Running(name string) bool {
	rec, err := readRecord(g.lockPath(name))
	return err == nil && g.live(rec)
}

// Stale lists agents whose lock file exists but is abandoned or unreadable.
// Nothing is removed.
func (g *Gate) Stale() ([]string, error) {
	names, err := g.names()
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, name := range names {
		rec, err := readRecord(g.lockPath(name))
		if os.IsNotExist(err) || (err == nil && g.live(rec)) {
			continue
		}
		stale = append(stale, name)
	}
	return stale, nil
}

// CleanStale removes every abandoned lock and expired completion record
// and returns the agents whose locks were reclaimed. If another process is
// already cleaning, it returns at once with nothing reclaimed.
func (g *Gate) CleanStale() ([]string, error) {
	names, err := g.names()
	if err != nil || len(names) == 0 {
		return nil, err
	}

	sweep := fsutil.NewFileLock(filepath.Join(g.dir, sweepGuard))
	ok, err := sweep.TryLock()
	if err != nil {
		return nil, errors.NewGateError("lock sweep guard", err).WithPath(sweep.Path())
	}
	if !ok {
		g.logger.Debug("stale lock cleanup already running elsewhere")
		return nil, nil
	}
	defer func() { _ = sweep.Unlock() }()

	var cleaned []string
	var errs []error
	for _, name := range names {
		g.completion(name)

		err := g.withGuard(name, func() error {
			path := g.lockPath(name)
			rec, err := readRecord(path)
			if os.IsNotExist(err) || (err == nil && g.live(rec)) {
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.NewGateError("remove stale lock", err).WithAgent(name).WithPath(path)
			}
			cleaned = append(cleaned, name)
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(cleaned) > 0 {
		g.logger.Info("cleaned stale locks", "agents", cleaned)
	}
	return cleaned, errors.Join(errs...)
}

// names lists agents with a lock or completion record.
func (g *Gate) names() ([]string, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewGateError("list locks", err).WithPath(g.dir)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		for _, ext := range []string{lockExt, doneExt} {
			if base, ok := strings.CutSuffix(n, ext); ok && nameRe.MatchString(base) {
				seen[base] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
