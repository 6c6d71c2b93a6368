// Package location implements tracking.LocationSource on top of fixes pushed by
// runner devices, over HTTP or Kafka.
package location

import (
	"context"
	"sync"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/google/uuid"
)

// DefaultMinDistanceMeters is the movement filter applied to watches.
const DefaultMinDistanceMeters = 1.0

// Feed is the position stream of a single device.
type Feed struct {
	deviceID    uuid.UUID
	minDistance float64

	// publishMu keeps fan-out in arrival order.
	publishMu sync.Mutex

	mu         sync.Mutex
	permission *bool
	last       *tracking.Coordinate
	subs       map[uint64]*subscription
	nextID     uint64
	// changed is closed and replaced whenever permission or the last fix changes.
	changed chan struct{}
}

// NewFeed creates a Feed for the device. A non-positive minDistance uses the default.
func NewFeed(deviceID uuid.UUID, minDistance float64) *Feed {
	if minDistance <= 0 {
		minDistance = DefaultMinDistanceMeters
	}
	return &Feed{
		deviceID:    deviceID,
		minDistance: minDistance,
		subs:        make(map[uint64]*subscription),
		changed:     make(chan struct{}),
	}
}

// DeviceID returns the device this feed belongs to.
func (f *Feed) DeviceID() uuid.UUID { return f.deviceID }

// SetPermission records the device's answer to the location prompt.
func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	f.permission = &granted
	f.broadcastLocked()
	f.mu.Unlock()
}

// RequestPermission returns the device's answer, waiting for one until ctx is done.
func (f *Feed) RequestPermission(ctx context.Context) (tracking.PermissionResult, error) {
	for {
		f.mu.Lock()
		if f.permission != nil {
			granted := *f.permission
			f.mu.Unlock()
			if granted {
				return tracking.PermissionGranted, nil
			}
			return tracking.PermissionDenied, nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return tracking.PermissionDenied, tracking.NewError(tracking.KindPermissionDenied, "device did not answer the location prompt", ctx.Err())
		}
	}
}

// GetCurrentPosition returns the last fix, waiting for a first one until ctx is done.
func (f *Feed) GetCurrentPosition(ctx context.Context) (tracking.Coordinate, error) {
	for {
		f.mu.Lock()
		if f.last != nil {
			c := *f.last
			f.mu.Unlock()
			return c, nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return tracking.Coordinate{}, tracking.NewError(tracking.KindPositionUnavailable, "no fix reported by device", ctx.Err())
		}
	}
}

// WatchPosition registers onUpdate for every later fix that moved at least the
// feed's minimum distance from the previous delivered one.
func (f *Feed) WatchPosition(onUpdate func(tracking.Coordinate)) (tracking.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &subscription{id: f.nextID, feed: f, onUpdate: onUpdate}
	if f.last != nil {
		last := *f.last
		sub.last = &last
	}
	f.subs[sub.id] = sub
	return sub, nil
}

// Publish records a fix and delivers it to every watch.
func (f *Feed) Publish(c tracking.Coordinate) error {
	if err := c.Validate(); err != nil {
		return err
	}

	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	f.mu.Lock()
	fix := c
	f.last = &fix
	subs := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.broadcastLocked()
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(c, f.minDistance)
	}
	return nil
}

// Watchers returns the number of active watches.
func (f *Feed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

type subscription struct {
	id       uint64
	feed     *Feed
	onUpdate func(tracking.Coordinate)

	// mu is held for the duration of a delivery, so Cancel waits out an in-flight callback.
	mu        sync.Mutex
	cancelled bool
	last      *tracking.Coordinate
}

func (s *subscription) deliver(c tracking.Coordinate, minDistance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	if s.last != nil && tracking.DistanceMeters(*s.last, c) < minDistance {
		return
	}
	fix := c
	s.last = &fix
	s.onUpdate(c)
}

// Cancel stops delivery. No callback runs after Cancel returns.
func (s *subscription) Cancel() {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}
