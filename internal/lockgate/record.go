package lockgate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"syscall"
	"time"

	"github.com/ciatc/band/internal/errors"
	"github.com/ciatc/band/internal/fsutil"
)

// Record is the on-disk lock record.
type Record struct {
	ProcessID  int     `json:"process_id"`
	AcquiredAt float64 `json:"acquired_at"` // epoch seconds
	HostID     string  `json:"host_id"`
}

// Completion is left behind when a lock is released.
type Completion struct {
	CompletedAt     float64 `json:"completed_at"` // epoch seconds
	DurationSeconds float64 `json:"duration_seconds"`
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromEpoch(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// Acquired returns the acquisition time.
func (r Record) Acquired() time.Time { return fromEpoch(r.AcquiredAt) }

// Completed returns the completion time.
func (c Completion) Completed() time.Time { return fromEpoch(c.CompletedAt) }

// Duration returns how long the agent held its lock.
func (c Completion) Duration() time.Duration {
	return time.Duration(c.DurationSeconds * float64(time.Second))
}

func readRecord(path string) (Record, error) {
	var r Record
	if err := fsutil.ReadJSON(path, &r); err != nil {
		if os.IsNotExist(err) {
			return r, err
		}
		return r, errors.Join(errors.ErrRecordCorrupted, err)
	}
	if r.ProcessID <= 0 || r.AcquiredAt <= 0 {
		return r, fmt.Errorf("%w: %s", errors.ErrRecordCorrupted, path)
	}
	return r, nil
}

func readCompletion(path string) (Completion, error) {
	var c Completion
	if err := fsutil.ReadJSON(path, &c); err != nil {
		if os.IsNotExist(err) {
			return c, err
		}
		return c, errors.Join(errors.ErrRecordCorrupted, err)
	}
	if c.CompletedAt <= 0 {
		return c, fmt.Errorf("%w: %s", errors.ErrRecordCorrupted, path)
	}
	return c, nil
}

func marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// ProcessAlive reports whether pid is running on this host. A process owned
// by another user answers EPERM and still counts as running.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// hostID identifies this machine in lock records.
func hostID() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
