package tracking

import "time"

// State is a point-in-time copy of a tracking session.
// CurrentPosition is nil until the first fix is accepted.
type State struct {
	Status          SessionStatus `json:"status"`
	CurrentPosition *Coordinate   `json:"current_position,omitempty"`
	Destination     Coordinate    `json:"destination"`
	Path            Path          `json:"path"`
	LastError       ErrorKind     `json:"last_error,omitempty"`
	Version         int64         `json:"version"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	if s.CurrentPosition != nil {
		pos := *s.CurrentPosition
		out.CurrentPosition = &pos
	}
	out.Path = s.Path.Clone()
	return out
}

// HasPosition returns true once a fix has been accepted.
func (s State) HasPosition() bool { return s.CurrentPosition != nil }
