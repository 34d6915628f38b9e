// Package services defines shared utilities consumed by the pipeline stages
// and the remote capability clients.
//
// Key responsibilities:
//   - Context helpers that stamp recording fingerprints, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline taxonomy (permanent vs retryable).
//   - CapabilityError, the normalized failure shape returned by remote
//     transcription and analysis clients.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
