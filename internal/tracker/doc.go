// Package tracker detects which project files changed since the previous
// invocation.
//
// Every file in the project tree gets a fingerprint. Files below the hash
// threshold are fingerprinted by content ("sha256:<hex>"); larger files by
// modification time and size ("mtime:<unix-nanos>:<size>"), since hashing them
// on every request is too slow. Fingerprints of different kinds never compare
// equal, so a file crossing the threshold is reported as changed.
//
// The previous snapshot lives in <cache_dir>/file_hashes.json. It is read and
// rewritten under a cross-process flock and replaced atomically. A missing or
// unreadable cache is not an error: every file is reported as changed and the
// cache is rebuilt.
//
// Known limitation: an mtime fingerprint misses a rewrite that keeps both
// the size and the modification time.
package tracker
