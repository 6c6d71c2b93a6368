package tracking

import "context"

// PermissionResult is the outcome of a location permission prompt.
type PermissionResult string

const (
	PermissionGranted PermissionResult = "granted"
	PermissionDenied  PermissionResult = "denied"
)

// Subscription is a handle on a continuous position watch.
type Subscription interface {
	// Cancel stops delivery. Once Cancel returns, the callback is never invoked again.
	// Calling Cancel more than once is a no-op.
	Cancel()
}

// LocationSource supplies device positions once and continuously.
type LocationSource interface {
	// RequestPermission asks the device for location access.
	RequestPermission(ctx context.Context) (PermissionResult, error)

	// GetCurrentPosition returns a single fix or fails with ErrPositionUnavailable.
	GetCurrentPosition(ctx context.Context) (Coordinate, error)

	// WatchPosition invokes onUpdate on every position change exceeding the
	// source's minimum movement threshold.
	WatchPosition(onUpdate func(Coordinate)) (Subscription, error)
}

// RouteProvider translates two coordinates into a travel path.
type RouteProvider interface {
	// ComputeRoute issues a single request. Failures are ErrInvalidCoordinate or
	// ErrRouteUnavailable.
	ComputeRoute(ctx context.Context, start, end Coordinate) (Path, error)
}

// Geocoder resolves a free-text place query into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Coordinate, error)
}
