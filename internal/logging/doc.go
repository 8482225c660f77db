// Package logging provides structured logging for band hook runs.
//
// Logs are JSON lines written through log/slog to <cache_dir>/debug.log.
// Standard output belongs to the host hook protocol, so nothing in this
// package ever writes there.
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	runLogger := logger.WithRun(runID)
//	agentLogger := runLogger.WithPhase(2).WithAgent("pete")
//	agentLogger.Info("agent finished", "status", "success")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"agent finished","run_id":"...","phase":2,"agent":"pete","status":"success"}
//
// # Log Rotation
//
// Every hook invocation appends to the same file, so [NewLoggerWithRotation]
// bounds its size. Rotated files are named debug.log.1, debug.log.2, with .1
// the most recent, and gain a .gz suffix when compression is enabled.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a buffer to
// assert on entries.
package logging
