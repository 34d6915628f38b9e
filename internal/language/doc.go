// Package language normalizes transcription language settings to the
// ISO 639-1 codes the speech-to-text API accepts.
package language
