package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"math"
	"os"
	"strings"
	"time"
)

// Fingerprint kinds.
const (
	KindHash  = "sha256"
	KindMtime = "mtime"
)

// Snapshot is the observed state of the tree at one point in time.
type Snapshot struct {
	// Fingerprints maps slash-separated project-relative paths to fingerprints.
	Fingerprints map[string]string
	LastUpdated  time.Time
}

// Len returns the number of files in the snapshot.
func (s Snapshot) Len() int { return len(s.Fingerprints) }

func (s Snapshot) clone() Snapshot {
	return Snapshot{Fingerprints: maps.Clone(s.Fingerprints), LastUpdated: s.LastUpdated}
}

// cacheFile is the on-disk form of a Snapshot.
type cacheFile struct {
	Fingerprints map[string]string `json:"fingerprints"`
	LastUpdated  float64           `json:"last_updated"`
}

func toCache(s Snapshot) cacheFile {
	return cacheFile{
		Fingerprints: s.Fingerprints,
		LastUpdated:  float64(s.LastUpdated.UnixNano()) / 1e9,
	}
}

func fromCache(c cacheFile) Snapshot {
	sec, frac := math.Modf(c.LastUpdated)
	fp := c.Fingerprints
	if fp == nil {
		fp = map[string]string{}
	}
	return Snapshot{
		Fingerprints: fp,
		LastUpdated:  time.Unix(int64(sec), int64(frac*1e9)),
	}
}

// Fingerprint computes the fingerprint of the file at path. Files smaller
// than threshold are hashed; others are identified by mtime and size.
func Fingerprint(path string, info fs.FileInfo, threshold int64) (string, error) {
	if info.Size() >= threshold {
		return fmt.Sprintf("%s:%d:%d", KindMtime, info.ModTime().UnixNano(), info.Size()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return KindHash + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Kind returns the kind prefix of a fingerprint.
func Kind(fp string) string {
	kind, _, _ := strings.Cut(fp, ":")
	return kind
}

// Same reports whether two fingerprints denote the same file state. A kind
// mismatch is never the same.
func Same(a, b string) bool {
	return a != "" && a == b && Kind(a) == Kind(b)
}
