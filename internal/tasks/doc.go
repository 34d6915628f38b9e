// Package tasks extracts structured action items from analysis task
// mentions and defines the task status graph.
//
// Inference order for each mention: inline metadata, then the speaker who
// raised it for the assignee, then urgency keywords for priority (default
// medium), then a fixed keyword map for category (default general). Relative
// due dates are resolved against the recording date.
package tasks
