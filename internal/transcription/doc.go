// Package transcription drives per-segment calls to the remote speech-to-text
// capability and merges the ordered results into one transcript.
//
// Segments are dispatched concurrently up to a fan-out limit. Each call runs
// under a retry.Policy on a context detached from the caller's cancellation;
// cancellation stops new dispatches only. After every successful segment the
// job's ProgressSink receives the segment's utterances and the new
// contiguous-prefix resume index, so a later run can skip finished work.
//
// Merge offsets utterances by their segment start, resolves the overlap
// window between neighbours (cosine similarity over token fingerprints, with
// normalized equality for short texts and prefix/suffix containment for
// clipped fragments), and clamps start times to be non-decreasing.
package transcription
