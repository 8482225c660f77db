package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ciatc/band/internal/fsutil"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes past which debug.log is rotated.
	// Zero disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept next to debug.log.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns the rotation used when none is configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  5,
		MaxBackups: 2,
	}
}

// RotatingWriter appends to a log file and rotates it by size.
//
// Hook processes are short-lived and several of them may append to the same
// debug.log, so the file is opened in append mode, the size is re-read from
// disk before each write, and rotation runs under a flock on debug.log.lock.
// A writer whose file was rotated away by another process reopens the new
// file instead of rotating again. Compression runs inline.
type RotatingWriter struct {
	mu sync.Mutex

	filePath   string
	maxSizeB   int64
	maxBackups int
	compress   bool

	file        *os.File
	currentSize int64
}

var _ io.WriteCloser = (*RotatingWriter)(nil)

// NewRotatingWriter opens filePath for appending, rotating first if it is
// already over the size limit.
func NewRotatingWriter(filePath string, config RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath:   filePath,
		maxSizeB:   int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
		compress:   config.Compress,
	}

	if err := rw.openFile(); err != nil {
		return nil, err
	}
	if err := rw.maybeRotate(0); err != nil {
		fmt.Fprintf(os.Stderr, "band: log rotation failed: %v\n", err)
	}
	return rw, nil
}

// openFile opens the log file. The caller must hold the mutex.
func (rw *RotatingWriter) openFile() error {
	if err := os.MkdirAll(filepath.Dir(rw.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rw.file = file
	rw.currentSize = info.Size()
	return nil
}

// Write implements io.Writer.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}

	if err := rw.maybeRotate(int64(len(p))); err != nil {
		// Keep writing to whatever file is open rather than drop entries.
		fmt.Fprintf(os.Stderr, "band: log rotation failed: %v\n", err)
		if rw.file == nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

// maybeRotate rotates when writing incoming more bytes would pass the size
// limit. The caller must hold the mutex.
func (rw *RotatingWriter) maybeRotate(incoming int64) error {
	if rw.maxSizeB <= 0 {
		return nil
	}
	if info, err := rw.file.Stat(); err == nil {
		rw.currentSize = info.Size()
	}
	if rw.currentSize == 0 || (rw.currentSize < rw.maxSizeB && rw.currentSize+incoming <= rw.maxSizeB) {
		return nil
	}

	guard := fsutil.NewFileLock(rw.filePath + ".lock")
	if err := guard.Lock(); err != nil {
		return err
	}
	defer func() { _ = guard.Unlock() }()

	// Another process may have rotated while we waited for the guard.
	held, heldErr := rw.file.Stat()
	onDisk, diskErr := os.Stat(rw.filePath)
	if heldErr == nil && diskErr == nil && !os.SameFile(held, onDisk) {
		if err := rw.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		rw.file = nil
		if err := rw.openFile(); err != nil {
			return err
		}
		if rw.currentSize < rw.maxSizeB && rw.currentSize+incoming <= rw.maxSizeB {
			return nil
		}
	}
	return rw.rotate()
}

// rotate renames the current file to .1 and reopens. The caller must hold
// the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()
	if rw.maxBackups <= 0 {
		removeErr := os.Remove(rw.filePath)
		if err := rw.openFile(); err != nil {
			return err
		}
		if removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("failed to truncate log file: %w", removeErr)
		}
		return nil
	}

	first := rw.backupPath(1)
	if err := os.Rename(rw.filePath, first); err != nil && !os.IsNotExist(err) {
		if openErr := rw.openFile(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if rw.compress {
		if err := compressFile(first); err != nil {
			fmt.Fprintf(os.Stderr, "band: log compression failed: %v\n", err)
		}
	}

	return rw.openFile()
}

// shiftBackups moves .N to .N+1, dropping the oldest. Files are numbered
// .1 (newest) to .N (oldest). Missing files are skipped.
func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		os.Remove(rw.backupPath(1))
		os.Remove(rw.backupPath(1) + ".gz")
		return
	}

	oldest := rw.backupPath(rw.maxBackups)
	os.Remove(oldest)
	os.Remove(oldest + ".gz")

	for i := rw.maxBackups - 1; i >= 1; i-- {
		from, to := rw.backupPath(i), rw.backupPath(i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			os.Rename(from+".gz", to+".gz")
		} else if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
}

func (rw *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.filePath, n)
}

// compressFile gzips path to path.gz and removes path on success.
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	gzPath := path + ".gz"
	dst, err := os.Create(gzPath)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		dst.Close()
		os.Remove(gzPath)
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(gzPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(gzPath)
		return err
	}
	return os.Remove(path)
}

// Close syncs and closes the log file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}

	if err := rw.file.Sync(); err != nil {
		rw.file.Close()
		rw.file = nil
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := rw.file.Close()
	rw.file = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// CurrentSize returns the size of the current log file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.currentSize
}

// FilePath returns the path of the active log file.
func (rw *RotatingWriter) FilePath() string {
	return rw.filePath
}
