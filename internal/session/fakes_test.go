package session

import (
	"context"
	"sync"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/location"
)

// fakeLocation is a scriptable LocationSource.
type fakeLocation struct {
	permission tracking.PermissionResult
	fix        tracking.Coordinate
	fixErr     error

	mu       sync.Mutex
	onUpdate func(tracking.Coordinate)
	watches  int
	cancels  int
}

func (f *fakeLocation) RequestPermission(ctx context.Context) (tracking.PermissionResult, error) {
	return f.permission, nil
}

func (f *fakeLocation) GetCurrentPosition(ctx context.Context) (tracking.Coordinate, error) {
	if f.fixErr != nil {
		return tracking.Coordinate{}, f.fixErr
	}
	return f.fix, nil
}

func (f *fakeLocation) WatchPosition(onUpdate func(tracking.Coordinate)) (tracking.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = onUpdate
	f.watches++
	return &fakeSubscription{owner: f}, nil
}

// emit simulates a device position event. Delivery ignores cancellation, which
// mimics an event that was already queued when the watch was cancelled.
func (f *fakeLocation) emit(c tracking.Coordinate) {
	f.mu.Lock()
	cb := f.onUpdate
	f.mu.Unlock()
	if cb != nil {
		cb(c)
	}
}

type fakeSubscription struct {
	owner *fakeLocation
	once  sync.Once
}

func (s *fakeSubscription) Cancel() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.cancels++
		s.owner.mu.Unlock()
	})
}

// routeCall is a pending ComputeRoute invocation awaiting a scripted reply.
type routeCall struct {
	start, end tracking.Coordinate
	reply      chan routeReply
}

type routeReply struct {
	path tracking.Path
	err  error
}

// gatedRoutes blocks every ComputeRoute call until the test replies to it.
type gatedRoutes struct {
	calls chan *routeCall
}

func newGatedRoutes() *gatedRoutes {
	return &gatedRoutes{calls: make(chan *routeCall, 16)}
}

func (g *gatedRoutes) ComputeRoute(ctx context.Context, start, end tracking.Coordinate) (tracking.Path, error) {
	call := &routeCall{start: start, end: end, reply: make(chan routeReply, 1)}
	g.calls <- call
	select {
	case r := <-call.reply:
		return r.path, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// funcRoutes answers ComputeRoute from a function and counts calls.
type funcRoutes struct {
	mu    sync.Mutex
	n     int
	ends  []tracking.Coordinate
	reply func(n int, start, end tracking.Coordinate) (tracking.Path, error)
}

func (f *funcRoutes) ComputeRoute(ctx context.Context, start, end tracking.Coordinate) (tracking.Path, error) {
	f.mu.Lock()
	f.n++
	n := f.n
	f.ends = append(f.ends, end)
	f.mu.Unlock()
	return f.reply(n, start, end)
}

func (f *funcRoutes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// blockingLocation waits on ctx for the permission answer and the first fix.
type blockingLocation struct {
	granted bool
}

func (b *blockingLocation) RequestPermission(ctx context.Context) (tracking.PermissionResult, error) {
	if b.granted {
		return tracking.PermissionGranted, nil
	}
	<-ctx.Done()
	return tracking.PermissionDenied, ctx.Err()
}

func (b *blockingLocation) GetCurrentPosition(ctx context.Context) (tracking.Coordinate, error) {
	<-ctx.Done()
	return tracking.Coordinate{}, ctx.Err()
}

func (b *blockingLocation) WatchPosition(func(tracking.Coordinate)) (tracking.Subscription, error) {
	return &fakeSubscription{owner: &fakeLocation{}}, nil
}

// racingFeed publishes a fix on the device feed right after the one-shot read
// returns, as a device reporting in at that moment would.
type racingFeed struct {
	*location.Feed
	next tracking.Coordinate
}

func (r *racingFeed) GetCurrentPosition(ctx context.Context) (tracking.Coordinate, error) {
	c, err := r.Feed.GetCurrentPosition(ctx)
	if err == nil {
		_ = r.Feed.Publish(r.next)
	}
	return c, err
}
