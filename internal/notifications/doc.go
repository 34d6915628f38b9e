// Package notifications delivers pipeline events via ntfy.
//
// The ntfy implementation publishes to the topic URL configured in
// config.toml and degrades to a no-op when no topic is set. Completed and
// failed notifications can be toggled independently.
package notifications
