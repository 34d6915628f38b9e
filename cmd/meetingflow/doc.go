// Command meetingflow is the operator CLI for the meeting-recording pipeline.
//
// It runs the daemon in the foreground, processes single recordings, and
// inspects or edits the ledger, tasks and entities stored in the SQLite
// database named by the configuration. Commands read the database directly,
// so they work whether or not the daemon is running.
package main
