package tracking

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		valid bool
	}{
		{"origin", Coordinate{0, 0}, true},
		{"bounds", Coordinate{90, 180}, true},
		{"negative bounds", Coordinate{-90, -180}, true},
		{"latitude too high", Coordinate{90.0001, 0}, false},
		{"latitude too low", Coordinate{-91, 0}, false},
		{"longitude too high", Coordinate{0, 180.5}, false},
		{"longitude too low", Coordinate{0, -200}, false},
		{"nan latitude", Coordinate{math.NaN(), 0}, false},
		{"nan longitude", Coordinate{0, math.NaN()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCoordinate))
			assert.Equal(t, KindInvalidCoordinate, KindOf(err))
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	a := Coordinate{Latitude: 37.0, Longitude: -122.0}
	assert.InDelta(t, 0, DistanceMeters(a, a), 1e-9)

	// One degree of latitude is roughly 111.2 km.
	b := Coordinate{Latitude: 38.0, Longitude: -122.0}
	assert.InDelta(t, 111195, DistanceMeters(a, b), 50)
}

func TestPath_LengthAndClone(t *testing.T) {
	p := Path{{0, 0}, {0, 1}, {0, 2}}
	assert.InDelta(t, 2*DistanceMeters(Coordinate{0, 0}, Coordinate{0, 1}), p.LengthMeters(), 1e-6)

	c := p.Clone()
	c[0] = Coordinate{10, 10}
	assert.Equal(t, Coordinate{0, 0}, p[0])

	assert.Nil(t, Path(nil).Clone())
	assert.Zero(t, Path{}.LengthMeters())
}

func TestError_IsMatchesByKind(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewError(KindRouteUnavailable, "directions request failed", cause)

	assert.True(t, errors.Is(err, ErrRouteUnavailable))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "route_unavailable")
	assert.Equal(t, KindNone, KindOf(cause))
}

func TestSessionStatus_Transitions(t *testing.T) {
	assert.True(t, StatusIdle.CanTransitionTo(StatusAwaitingPermission))
	assert.True(t, StatusAwaitingPermission.CanTransitionTo(StatusFailed))
	assert.True(t, StatusTracking.CanTransitionTo(StatusTracking))
	assert.False(t, StatusFailed.CanTransitionTo(StatusAwaitingPermission))
	assert.False(t, StatusIdle.CanTransitionTo(StatusTracking))

	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusTracking.IsTerminal())

	s, err := ParseSessionStatus("tracking")
	require.NoError(t, err)
	assert.Equal(t, StatusTracking, s)

	_, err = ParseSessionStatus("bogus")
	assert.Error(t, err)
}

func TestState_CloneIsDeep(t *testing.T) {
	pos := Coordinate{1, 2}
	s := State{CurrentPosition: &pos, Path: Path{{1, 2}, {3, 4}}}

	c := s.Clone()
	c.CurrentPosition.Latitude = 9
	c.Path[0].Latitude = 9

	assert.Equal(t, 1.0, s.CurrentPosition.Latitude)
	assert.Equal(t, 1.0, s.Path[0].Latitude)
	assert.True(t, c.HasPosition())
}
