// Package daemon coordinates the long-running meetingflow process.
//
// It wires configuration, the SQLite store, the pipeline coordinator and the
// input watcher into a single lifecycle with flock-based locking to prevent
// multiple instances. Failed recordings that still have retries left are
// resubmitted with backoff. The daemon also serves the HTTP API and the
// WebSocket event stream.
//
// Keep orchestration logic here: stage work belongs to the pipeline package
// while the daemon focuses on startup, shutdown and high level coordination.
package daemon
