// Package session orchestrates a single live-tracking session: it follows a
// device's position, keeps a destination, and keeps the route between them fresh.
//
// All state lives behind one mutex. Collaborators are never called with the
// mutex held. Route requests run in their own goroutines and are tagged with a
// generation number; a result is applied only if no newer result has been
// applied, so a slow response can never overwrite a faster, more recent one.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/apperror"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"go.uber.org/zap"
)

// DefaultRouteTimeout bounds a single route request.
const DefaultRouteTimeout = 10 * time.Second

// ErrStopped is returned by Start when Stop interrupts it.
var ErrStopped = errors.New("session stopped")

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithRouteTimeout overrides DefaultRouteTimeout.
func WithRouteTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.routeTimeout = d
		}
	}
}

// WithObserver registers fn to receive a copy of the state after every change.
// Calls may arrive from different goroutines; State.Version orders them.
func WithObserver(fn func(tracking.State)) Option {
	return func(s *Session) { s.observer = fn }
}

// WithClock overrides time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session tracks one device towards one destination.
type Session struct {
	locations    tracking.LocationSource
	routes       tracking.RouteProvider
	logger       *zap.Logger
	routeTimeout time.Duration
	observer     func(tracking.State)
	now          func() time.Time

	mu     sync.Mutex
	state  tracking.State
	sub    tracking.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	// epoch changes on every Start and Stop; callbacks bound to an older epoch are ignored.
	epoch uint64
	// issued is the newest route generation started, applied the newest one written
	// (or invalidated by Stop).
	issued  uint64
	applied uint64

	inflight sync.WaitGroup
}

// New creates an idle Session.
func New(locations tracking.LocationSource, routes tracking.RouteProvider, opts ...Option) *Session {
	s := &Session{
		locations:    locations,
		routes:       routes,
		logger:       zap.NewNop(),
		routeTimeout: DefaultRouteTimeout,
		now:          time.Now,
		state:        tracking.State{Status: tracking.StatusIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a deep copy of the current tracking state.
func (s *Session) State() tracking.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Start requests permission, begins watching positions and takes an initial fix.
// A denied permission leaves the session Failed and returns ErrPermissionDenied.
// A failed initial fix is recorded in LastError and does not abort the watch.
// Stop unblocks a Start that is still waiting on the device.
func (s *Session) Start(ctx context.Context, initialDestination tracking.Coordinate) error {
	if err := initialDestination.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.state.Status.CanTransitionTo(tracking.StatusAwaitingPermission) {
		from := s.state.Status
		s.mu.Unlock()
		return apperror.NewInvalidStateError(string(from), string(tracking.StatusAwaitingPermission))
	}
	s.epoch++
	epoch := s.epoch
	s.ctx, s.cancel = context.WithCancel(context.Background())
	sessionCtx := s.ctx
	s.state.Status = tracking.StatusAwaitingPermission
	s.state.Destination = initialDestination
	s.state.CurrentPosition = nil
	s.state.Path = nil
	s.state.LastError = tracking.KindNone
	snap := s.touchLocked()
	s.mu.Unlock()
	s.notify(snap)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(sessionCtx, cancel)
	defer stopAfter()

	perm, err := s.locations.RequestPermission(ctx)
	if err != nil || perm != tracking.PermissionGranted {
		if !s.fail(epoch) {
			return ErrStopped
		}
		s.logger.Warn("location permission denied", zap.Error(err))
		return tracking.NewError(tracking.KindPermissionDenied, "location access was not granted", err)
	}

	if !s.transition(epoch, tracking.StatusAwaitingFix) {
		return ErrStopped
	}

	// The watch is registered before the one-shot read so no fix falls between them.
	sub, err := s.locations.WatchPosition(func(c tracking.Coordinate) {
		s.handlePosition(epoch, c, false)
	})
	if err != nil {
		s.recordError(epoch, tracking.KindPositionUnavailable)
		return tracking.NewError(tracking.KindPositionUnavailable, "position watch failed", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		sub.Cancel()
		return ErrStopped
	}
	s.sub = sub
	s.mu.Unlock()

	fix, err := s.locations.GetCurrentPosition(ctx)
	if err != nil {
		if sessionCtx.Err() != nil {
			return ErrStopped
		}
		s.logger.Warn("initial position fix unavailable", zap.Error(err))
		s.recordInitialFixError(epoch)
		return nil
	}
	s.handlePosition(epoch, fix, true)
	return nil
}

// SetDestination replaces the destination and recomputes the route if a position
// is known. An invalid coordinate is rejected without touching the state.
func (s *Session) SetDestination(ctx context.Context, destination tracking.Coordinate) error {
	if err := destination.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Status.IsTerminal() {
		from := s.state.Status
		s.mu.Unlock()
		return apperror.NewInvalidStateError(string(from), string(tracking.StatusTracking))
	}
	s.state.Destination = destination
	var req *routeRequest
	if s.state.Status == tracking.StatusTracking && s.state.HasPosition() {
		req = s.beginRouteLocked()
	}
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
	if req != nil {
		s.launch(req)
	}
	return nil
}

// Stop cancels the position watch and discards any route result still in flight.
// It is a no-op before Start, after a previous Stop, and on a failed session.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.state.Status.CanTransitionTo(tracking.StatusIdle) {
		s.mu.Unlock()
		return
	}
	s.epoch++
	s.applied = s.issued
	sub := s.sub
	s.sub = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.state.Status = tracking.StatusIdle
	snap := s.touchLocked()
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	s.notify(snap)
}

// Wait blocks until every route request started so far has completed.
func (s *Session) Wait() {
	s.inflight.Wait()
}

type routeRequest struct {
	ctx        context.Context
	generation uint64
	from, to   tracking.Coordinate
}

// handlePosition applies a fix. The one-shot initial fix is dropped if the watch
// already delivered a position.
func (s *Session) handlePosition(epoch uint64, c tracking.Coordinate, initial bool) {
	if err := c.Validate(); err != nil {
		s.logger.Warn("ignoring out-of-range position", zap.Stringer("position", c), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || !s.state.Status.AcceptsPositions() || (initial && s.state.HasPosition()) {
		s.mu.Unlock()
		return
	}
	pos := c
	s.state.CurrentPosition = &pos
	s.state.Status = tracking.StatusTracking
	req := s.beginRouteLocked()
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.launch(req)
}

func (s *Session) recordInitialFixError(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state.HasPosition() {
		s.mu.Unlock()
		return
	}
	s.state.LastError = tracking.KindPositionUnavailable
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) beginRouteLocked() *routeRequest {
	s.issued++
	return &routeRequest{
		ctx:        s.ctx,
		generation: s.issued,
		from:       *s.state.CurrentPosition,
		to:         s.state.Destination,
	}
}

func (s *Session) launch(req *routeRequest) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(req.ctx, s.routeTimeout)
		defer cancel()

		path, err := s.routes.ComputeRoute(ctx, req.from, req.to)
		if err == nil && len(path) == 0 {
			err = tracking.NewError(tracking.KindRouteUnavailable, "empty route", nil)
		}
		s.applyRoute(req.generation, path, err)
	}()
}

func (s *Session) applyRoute(generation uint64, path tracking.Path, err error) {
	s.mu.Lock()
	if generation <= s.applied || s.state.Status != tracking.StatusTracking {
		s.mu.Unlock()
		s.logger.Debug("discarding stale route result", zap.Uint64("generation", generation))
		return
	}
	s.applied = generation
	if err != nil {
		kind := tracking.KindOf(err)
		if kind == tracking.KindNone {
			kind = tracking.KindRouteUnavailable
		}
		s.state.LastError = kind
		s.logger.Warn("route recomputation failed, keeping previous path",
			zap.Uint64("generation", generation),
			zap.Error(err),
		)
	} else {
		s.state.Path = path.Clone()
		s.state.LastError = tracking.KindNone
	}
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// fail moves an in-progress start to Failed. It returns false if Stop won the race.
func (s *Session) fail(epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.state.Status = tracking.StatusFailed
	s.state.LastError = tracking.KindPermissionDenied
	s.state.CurrentPosition = nil
	if s.cancel != nil {
		s.cancel()
	}
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

func (s *Session) transition(epoch uint64, to tracking.SessionStatus) bool {
	s.mu.Lock()
	if s.epoch != epoch || !s.state.Status.CanTransitionTo(to) {
		s.mu.Unlock()
		return false
	}
	s.state.Status = to
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

func (s *Session) recordError(epoch uint64, kind tracking.ErrorKind) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.state.LastError = kind
	snap := s.touchLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) touchLocked() tracking.State {
	s.state.Version++
	s.state.UpdatedAt = s.now().UTC()
	return s.state.Clone()
}

func (s *Session) notify(snap tracking.State) {
	if s.observer != nil {
		s.observer(snap)
	}
}
