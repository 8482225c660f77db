// Package fsutil provides the file primitives band uses to coordinate
// concurrent hook processes through the filesystem.
//
// Every record another process may read is published whole: either by
// writing a temporary file and renaming it over the target
// ([WriteFileAtomic]), or by hard-linking a fully written temporary file
// into place, which fails if the target already exists ([CreateExclusive]).
// Read-modify-write sequences that span several calls are serialized across
// processes with [FileLock], a thin wrapper over flock(2).
package fsutil
