// Package config loads, normalizes, and validates meetingflow configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and OPENROUTER_API_KEY. The Config type centralizes every
// knob the daemon and CLI need, so input/processed/work directories, remote
// capability credentials, and pipeline limits are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
