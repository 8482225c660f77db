package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// smallRotation returns a writer that rotates after roughly limit bytes.
func smallRotation(t *testing.T, limit int64, backups int, compress bool) *RotatingWriter {
	t.Helper()
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), LogFileName), RotationConfig{
		MaxSizeMB:  1,
		MaxBackups: backups,
		Compress:   compress,
	})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxSizeB = limit
	t.Cleanup(func() { rw.Close() })
	return rw
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("picks up the size of an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(path, RotationConfig{})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer rw.Close()

		if rw.CurrentSize() != 9 {
			t.Errorf("CurrentSize() = %d, want 9", rw.CurrentSize())
		}
		if rw.FilePath() != path {
			t.Errorf("FilePath() = %q", rw.FilePath())
		}
	})

	t.Run("rotates an oversized file on open", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, LogFileName)
		big := bytes.Repeat([]byte("x"), 1024*1024+1)
		if err := os.WriteFile(path, big, 0644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer rw.Close()

		if rw.CurrentSize() != 0 {
			t.Errorf("CurrentSize() = %d, want 0 after rotation", rw.CurrentSize())
		}
		if _, err := os.Stat(path + ".1"); err != nil {
			t.Errorf("expected backup .1: %v", err)
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	rw := smallRotation(t, 20, 2, false)
	path := rw.FilePath()

	for _, line := range []string{"first-line-0000\n", "second-line-000\n", "third-line-0000\n", "fourth-line-000\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	current, _ := os.ReadFile(path)
	one, _ := os.ReadFile(path + ".1")
	two, _ := os.ReadFile(path + ".2")

	if string(current) != "fourth-line-000\n" {
		t.Errorf("current = %q", current)
	}
	if string(one) != "third-line-0000\n" {
		t.Errorf(".1 = %q", one)
	}
	if string(two) != "second-line-000\n" {
		t.Errorf(".2 = %q", two)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should be dropped")
	}
}

func TestRotatingWriterSharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	open := func() *RotatingWriter {
		rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 3})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		rw.maxSizeB = 20
		t.Cleanup(func() { rw.Close() })
		return rw
	}
	first, second := open(), open()

	first.Write([]byte("first-run-00000\n"))
	second.Write([]byte("second-run-0000\n")) // over the limit: rotates first's line away
	first.Write([]byte("first-again-000\n"))  // file was rotated underneath: reopen, then rotate

	current, _ := os.ReadFile(path)
	one, _ := os.ReadFile(path + ".1")
	two, _ := os.ReadFile(path + ".2")

	if string(current) != "first-again-000\n" {
		t.Errorf("current = %q", current)
	}
	if string(one) != "second-run-0000\n" {
		t.Errorf(".1 = %q", one)
	}
	if string(two) != "first-run-00000\n" {
		t.Errorf(".2 = %q", two)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("expected exactly two rotations")
	}
}

func TestRotatingWriterNoBackups(t *testing.T) {
	rw := smallRotation(t, 10, 0, false)

	rw.Write([]byte("0123456789\n"))
	rw.Write([]byte("abcdefghij\n"))

	entries, err := os.ReadDir(filepath.Dir(rw.FilePath()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".1") {
			t.Errorf("unexpected backup %s with MaxBackups=0", e.Name())
		}
	}
}

func TestRotatingWriterCompression(t *testing.T) {
	rw := smallRotation(t, 12, 2, true)
	path := rw.FilePath()

	rw.Write([]byte("compress-me\n"))
	rw.Write([]byte("next-entry\n"))

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("expected compressed backup: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "compress-me\n" {
		t.Errorf("decompressed = %q", data)
	}
}

func TestRotatingWriterClose(t *testing.T) {
	rw := smallRotation(t, 1024, 1, false)

	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLoggerWithRotation(dir, LevelInfo, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}
	logger.WithRun("abc").Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `"run_id":"abc"`) {
		t.Errorf("content = %q", content)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB <= 0 || cfg.MaxBackups <= 0 {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
