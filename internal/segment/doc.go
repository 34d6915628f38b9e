// Package segment plans and materializes size-bounded audio segments for the
// transcription capability.
//
// Plan is pure: it sizes segments from bitrate × duration instead of trial
// encoding, so the same inputs always yield the same boundaries. A recording
// whose estimated size fits the payload limit becomes one segment; longer
// recordings are cut into windows no larger than the payload allows (and no
// longer than the configured maximum duration), each sharing an overlap
// window with its predecessor.
//
// Materialize re-encodes the requested segments with ffmpeg into a scoped
// temporary directory. The returned Workspace must be closed; Close removes
// the directory, and Materialize removes it itself on any failure.
package segment
