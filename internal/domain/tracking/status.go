package tracking

import "fmt"

// SessionStatus represents the current state of a tracking session in its lifecycle.
type SessionStatus string

const (
	StatusIdle               SessionStatus = "idle"
	StatusAwaitingPermission SessionStatus = "awaiting_permission"
	StatusAwaitingFix        SessionStatus = "awaiting_fix"
	StatusTracking           SessionStatus = "tracking"
	StatusFailed             SessionStatus = "failed"
)

// validTransitions defines the state machine for session status transitions.
// Tracking re-enters itself on every position or destination change.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusIdle:               {StatusAwaitingPermission},
	StatusAwaitingPermission: {StatusAwaitingFix, StatusFailed, StatusIdle},
	StatusAwaitingFix:        {StatusTracking, StatusIdle},
	StatusTracking:           {StatusTracking, StatusIdle},
	StatusFailed:             {},
}

// IsValid returns true if the status is a recognized session status.
func (s SessionStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s SessionStatus) IsTerminal() bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return true
	}
	return len(allowed) == 0
}

// AcceptsPositions reports whether position updates are applied in this status.
func (s SessionStatus) AcceptsPositions() bool {
	return s == StatusAwaitingFix || s == StatusTracking
}

// String returns the string representation of the status.
func (s SessionStatus) String() string {
	return string(s)
}

// ParseSessionStatus converts a string to a SessionStatus, returning an error if invalid.
func ParseSessionStatus(s string) (SessionStatus, error) {
	status := SessionStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid session status: %s", s)
	}
	return status, nil
}
