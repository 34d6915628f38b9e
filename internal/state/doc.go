// Package state tracks per-recording processing progress keyed by content
// fingerprint. It is the single source of truth the pipeline consults before
// doing work: stages advance only to their immediate successor, failures keep
// the last completed stage, and an in-progress claim with a heartbeat keeps
// two runs from processing the same recording.
package state
