package tasks

import (
	"fmt"

	"meetingflow/internal/services"
)

var transitions = map[Status][]Status{
	StatusNew:        {StatusReady},
	StatusReady:      {StatusInProgress},
	StatusInProgress: {StatusInReview, StatusBlocked},
	StatusBlocked:    {StatusInProgress},
	StatusInReview:   {StatusDone, StatusInProgress},
}

// CanTransition reports whether from→to is an edge of the status graph.
// Every non-terminal status may move to cancelled.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a validation error for an illegal edge.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return services.Wrap(services.ErrValidation, "tasks", "transition",
		fmt.Sprintf("illegal status transition %s -> %s", from, to), nil)
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	if s.Terminal() {
		return nil
	}
	out := append([]Status(nil), transitions[s]...)
	return append(out, StatusCancelled)
}
