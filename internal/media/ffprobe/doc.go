// Package ffprobe wraps ffprobe's JSON output for recording probing.
//
// Inspect runs ffprobe and decodes streams and container format; Probe
// reduces that to the duration and audio stream details the segmenter needs.
package ffprobe
