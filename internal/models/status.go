package models

import "fmt"

// Status is the closed set of trip states. The zero value is StatusScheduled,
// the virtual state a schedule slot reports when no live trip matches it.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusOntime    Status = "Ontime"
	StatusDelayed   Status = "Delayed"
	StatusCancelled Status = "Cancelled"
	StatusCompleted Status = "Completed"
)

// ParseStatus converts a raw store value into a Status. Unrecognized values
// are rejected rather than passed through, so a malformed document cannot
// leak an open-ended status string into the reconcilers.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusScheduled, StatusOntime, StatusDelayed, StatusCancelled, StatusCompleted:
		return s, nil
	}
	return "", fmt.Errorf("unrecognized trip status %q", raw)
}

// IsLive reports whether a trip in this state is actively running and
// therefore eligible for location tracking.
func (s Status) IsLive() bool {
	return s == StatusOntime || s == StatusDelayed
}

// IsTerminal reports whether the state permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle state machine permits moving
// from s to next. Scheduled is virtual: a trip is created directly in Ontime.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusScheduled:
		return next == StatusOntime
	case StatusOntime:
		return next == StatusDelayed || next == StatusCancelled || next == StatusCompleted
	case StatusDelayed:
		return next == StatusOntime || next == StatusCancelled || next == StatusCompleted
	}
	return false
}

func (s Status) String() string { return string(s) }
