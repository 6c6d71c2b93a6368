package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/apperror"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/events"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/geocode"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	eventSource        = "service-livetrack"
	persistTimeout     = 5 * time.Second
	subscriberBuffer   = 16
	defaultPromptLimit = 30 * time.Second
)

// CoordinateRequest is a latitude/longitude pair supplied by a client.
type CoordinateRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// ToCoordinate converts the request into a domain coordinate.
func (r CoordinateRequest) ToCoordinate() tracking.Coordinate {
	var c tracking.Coordinate
	if r.Latitude != nil {
		c.Latitude = *r.Latitude
	}
	if r.Longitude != nil {
		c.Longitude = *r.Longitude
	}
	return c
}

// StartSessionRequest holds the data needed to start tracking a device.
type StartSessionRequest struct {
	Destination CoordinateRequest `json:"destination"`
}

// SessionDTO is the response representation of a tracking session.
type SessionDTO struct {
	ID              uuid.UUID            `json:"id"`
	DeviceID        uuid.UUID            `json:"device_id"`
	Status          string               `json:"status"`
	CurrentPosition *tracking.Coordinate `json:"current_position,omitempty"`
	Destination     tracking.Coordinate  `json:"destination"`
	Path            tracking.Path        `json:"path"`
	Route           events.RouteSummary  `json:"route"`
	LastError       string               `json:"last_error,omitempty"`
	Live            bool                 `json:"live"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// LocationHub hands out per-device location sources and accepts device reports.
type LocationHub interface {
	Source(deviceID uuid.UUID) tracking.LocationSource
	Publish(deviceID uuid.UUID, c tracking.Coordinate) error
	SetPermission(deviceID uuid.UUID, granted bool)
}

// EventPublisher publishes CloudEvents to a topic.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, ce events.CloudEvent) error
}

// TrackingOptions tunes the sessions created by TrackingService.
type TrackingOptions struct {
	RouteTimeout  time.Duration
	PromptTimeout time.Duration
}

// liveSession is a running session plus the bookkeeping needed to observe it.
type liveSession struct {
	id        uuid.UUID
	deviceID  uuid.UUID
	createdAt time.Time
	session   *session.Session

	mu          sync.Mutex
	last        tracking.State
	ready       chan struct{}
	readyOnce   sync.Once
	subscribers map[int]chan SessionDTO
	nextSub     int
	closed      bool
}

// TrackingService is the application service orchestrating live tracking use cases.
type TrackingService struct {
	hub       LocationHub
	routes    tracking.RouteProvider
	geocoder  tracking.Geocoder
	repo      tracking.SnapshotRepository
	publisher EventPublisher
	opts      TrackingOptions
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	starts sync.WaitGroup

	mu       sync.RWMutex
	sessions map[uuid.UUID]*liveSession
}

// NewTrackingService creates a new TrackingService. geocoder may be nil, in which
// case destination search is rejected.
func NewTrackingService(
	hub LocationHub,
	routes tracking.RouteProvider,
	geocoder tracking.Geocoder,
	repo tracking.SnapshotRepository,
	publisher EventPublisher,
	opts TrackingOptions,
	logger *zap.Logger,
) *TrackingService {
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = defaultPromptLimit
	}
	if opts.RouteTimeout <= 0 {
		opts.RouteTimeout = session.DefaultRouteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TrackingService{
		hub:       hub,
		routes:    routes,
		geocoder:  geocoder,
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[uuid.UUID]*liveSession),
	}
}

// StartSession starts tracking a device towards a destination. The session waits
// in the background for the device to answer the permission prompt; the returned
// view reflects the state once the prompt has been issued.
func (s *TrackingService) StartSession(ctx context.Context, deviceID uuid.UUID, req StartSessionRequest) (*SessionDTO, error) {
	if deviceID == uuid.Nil {
		return nil, apperror.NewValidationError("device_id is required")
	}
	destination := req.Destination.ToCoordinate()
	if err := destination.Validate(); err != nil {
		return nil, err
	}

	live := &liveSession{
		id:          uuid.New(),
		deviceID:    deviceID,
		createdAt:   time.Now().UTC(),
		ready:       make(chan struct{}),
		subscribers: make(map[int]chan SessionDTO),
	}
	live.session = session.New(
		s.hub.Source(deviceID),
		s.routes,
		session.WithLogger(s.logger.With(
			zap.String("session_id", live.id.String()),
			zap.String("device_id", deviceID.String()),
		)),
		session.WithRouteTimeout(s.opts.RouteTimeout),
		session.WithObserver(func(st tracking.State) { s.observe(live, st) }),
	)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, apperror.NewConflictError("tracking service is shutting down")
	}
	for _, other := range s.sessions {
		if other.deviceID == deviceID && isActive(other.session.State()) {
			s.mu.Unlock()
			return nil, apperror.NewConflictError(fmt.Sprintf("device %s already has an active session %s", deviceID, other.id))
		}
	}
	s.sessions[live.id] = live
	s.starts.Add(1)
	startCtx, cancelStart := context.WithTimeout(s.ctx, s.opts.PromptTimeout)
	s.mu.Unlock()

	go func() {
		defer s.starts.Done()
		defer cancelStart()
		if err := live.session.Start(startCtx, destination); err != nil && !errors.Is(err, session.ErrStopped) && !errors.Is(err, context.Canceled) {
			s.logger.Warn("tracking session did not start cleanly",
				zap.String("session_id", live.id.String()),
				zap.Error(err),
			)
		}
	}()

	select {
	case <-live.ready:
	case <-ctx.Done():
		s.abandon(live, cancelStart)
		return nil, ctx.Err()
	}

	s.logger.Info("tracking session started",
		zap.String("session_id", live.id.String()),
		zap.String("device_id", deviceID.String()),
		zap.Stringer("destination", destination),
	)

	dto := live.dto(live.session.State())
	return &dto, nil
}

// GetSession returns a live session, or the last persisted snapshot of a session
// this process no longer runs.
func (s *TrackingService) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionDTO, error) {
	if live, ok := s.lookup(sessionID); ok {
		dto := live.dto(live.session.State())
		return &dto, nil
	}

	snap, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	dto := snapshotDTO(snap)
	return &dto, nil
}

// SetDestination changes a live session's destination.
func (s *TrackingService) SetDestination(ctx context.Context, sessionID uuid.UUID, destination tracking.Coordinate) (*SessionDTO, error) {
	live, err := s.requireLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := live.session.SetDestination(ctx, destination); err != nil {
		return nil, err
	}

	s.logger.Info("destination updated",
		zap.String("session_id", sessionID.String()),
		zap.Stringer("destination", destination),
	)

	dto := live.dto(live.session.State())
	return &dto, nil
}

// SearchDestination resolves a free-text query and makes the result the destination.
func (s *TrackingService) SearchDestination(ctx context.Context, sessionID uuid.UUID, query string) (*SessionDTO, error) {
	if s.geocoder == nil {
		return nil, apperror.NewValidationError("destination search is not configured")
	}
	if query == "" {
		return nil, apperror.NewValidationError("query is required")
	}
	if _, err := s.requireLive(ctx, sessionID); err != nil {
		return nil, err
	}

	destination, err := s.geocoder.Geocode(ctx, query)
	if err != nil {
		if errors.Is(err, geocode.ErrNoMatch) {
			return nil, apperror.NewNotFoundError("Place", query)
		}
		if tracking.KindOf(err) == tracking.KindNone {
			err = tracking.NewError(tracking.KindRouteUnavailable, "geocoding failed", err)
		}
		return nil, fmt.Errorf("failed to geocode %q: %w", query, err)
	}
	return s.SetDestination(ctx, sessionID, destination)
}

// StopSession stops a live session. Stopping twice is not an error.
func (s *TrackingService) StopSession(ctx context.Context, sessionID uuid.UUID) (*SessionDTO, error) {
	live, err := s.requireLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	live.session.Stop()

	s.logger.Info("tracking session stopped", zap.String("session_id", sessionID.String()))

	dto := live.dto(live.session.State())
	return &dto, nil
}

// ListSessions returns a page of the sessions run by this process, newest first.
func (s *TrackingService) ListSessions(page, limit int) *apperror.PaginatedResult[SessionDTO] {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	lives := s.liveSessions()

	sort.Slice(lives, func(i, j int) bool {
		return lives[i].createdAt.After(lives[j].createdAt)
	})

	start := (page - 1) * limit
	if start > len(lives) {
		start = len(lives)
	}
	end := start + limit
	if end > len(lives) {
		end = len(lives)
	}

	dtos := make([]SessionDTO, 0, end-start)
	for _, live := range lives[start:end] {
		dtos = append(dtos, live.dto(live.session.State()))
	}

	result := apperror.NewPaginatedResult(dtos, int64(len(lives)), page, limit)
	return &result
}

// ListDeviceSessions returns a page of persisted sessions for a device.
func (s *TrackingService) ListDeviceSessions(ctx context.Context, deviceID uuid.UUID, page, limit int) (*apperror.PaginatedResult[SessionDTO], error) {
	snaps, total, err := s.repo.ListByDevice(ctx, deviceID, page, limit)
	if err != nil {
		return nil, err
	}

	dtos := make([]SessionDTO, len(snaps))
	for i, snap := range snaps {
		if live, ok := s.lookup(snap.SessionID); ok {
			dtos[i] = live.dto(live.session.State())
			continue
		}
		dtos[i] = snapshotDTO(snap)
	}

	result := apperror.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}

// SessionStatsDTO holds session statistics for the admin dashboard.
type SessionStatsDTO struct {
	TotalSessions int64            `json:"total_sessions"`
	ByStatus      map[string]int64 `json:"by_status"`
	Live          int              `json:"live"`
	Active        int              `json:"active"`
}

// GetSessionStats returns persisted session counts plus what this process is running.
func (s *TrackingService) GetSessionStats(ctx context.Context) (*SessionStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	lives := s.liveSessions()

	active := 0
	for _, live := range lives {
		if isActive(live.session.State()) {
			active++
		}
	}

	return &SessionStatsDTO{
		TotalSessions: total,
		ByStatus:      counts,
		Live:          len(lives),
		Active:        active,
	}, nil
}

// Subscribe streams every observed change of a live session, starting with its
// current state. The returned cancel func must be called to release the stream.
func (s *TrackingService) Subscribe(sessionID uuid.UUID) (<-chan SessionDTO, func(), error) {
	live, ok := s.lookup(sessionID)
	if !ok {
		return nil, nil, apperror.NewNotFoundError("TrackingSession", sessionID.String())
	}

	ch := make(chan SessionDTO, subscriberBuffer)
	live.mu.Lock()
	if live.closed {
		live.mu.Unlock()
		return nil, nil, apperror.NewConflictError("tracking service is shutting down")
	}
	ch <- live.dto(live.last)
	id := live.nextSub
	live.nextSub++
	live.subscribers[id] = ch
	live.mu.Unlock()

	cancel := func() {
		live.mu.Lock()
		defer live.mu.Unlock()
		if sub, ok := live.subscribers[id]; ok {
			delete(live.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// ReportPermission records a device's answer to the location prompt.
func (s *TrackingService) ReportPermission(deviceID uuid.UUID, granted bool) {
	s.hub.SetPermission(deviceID, granted)
}

// ReportPosition feeds a device fix into every session watching that device.
func (s *TrackingService) ReportPosition(deviceID uuid.UUID, c tracking.Coordinate) error {
	return s.hub.Publish(deviceID, c)
}

// Shutdown stops every session, waits for in-flight work and closes all streams.
func (s *TrackingService) Shutdown() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	lives := s.liveSessions()

	for _, live := range lives {
		live.session.Stop()
	}
	s.starts.Wait()
	for _, live := range lives {
		live.session.Wait()
		live.closeSubscribers()
	}
	s.logger.Info("tracking service shut down", zap.Int("sessions", len(lives)))
}

// --- Observation ---

// observe runs for every state change of a session. Changes can arrive out of
// order from different goroutines; anything older than the last one seen is dropped.
func (s *TrackingService) observe(live *liveSession, st tracking.State) {
	live.mu.Lock()
	if st.Version <= live.last.Version {
		live.mu.Unlock()
		return
	}
	prev := live.last
	live.last = st.Clone()
	dto := live.dto(st)
	for id, sub := range live.subscribers {
		select {
		case sub <- dto:
		default:
			s.logger.Warn("dropping update for slow stream subscriber",
				zap.String("session_id", live.id.String()),
				zap.Int("subscriber", id),
			)
		}
	}
	live.mu.Unlock()
	live.readyOnce.Do(func() { close(live.ready) })

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	snap := &tracking.Snapshot{
		SessionID: live.id,
		DeviceID:  live.deviceID,
		State:     st,
		CreatedAt: live.createdAt,
	}
	if err := s.repo.Upsert(ctx, snap); err != nil {
		s.logger.Error("failed to persist tracking snapshot",
			zap.String("session_id", live.id.String()),
			zap.Int64("version", st.Version),
			zap.Error(err),
		)
	}

	if eventType, ok := classifyChange(prev, st); ok {
		s.publishEvent(ctx, eventType, live, st)
	}
}

// classifyChange names the event a state change announces, if any.
func classifyChange(prev, cur tracking.State) (string, bool) {
	switch {
	case cur.Status == tracking.StatusFailed && prev.Status != tracking.StatusFailed:
		return events.TrackingSessionFailed, true
	case cur.Status == tracking.StatusIdle && prev.Status != tracking.StatusIdle:
		return events.TrackingSessionStopped, true
	case cur.Status == tracking.StatusAwaitingPermission && prev.Status != tracking.StatusAwaitingPermission:
		return events.TrackingSessionStarted, true
	case cur.Status == tracking.StatusTracking && !samePath(prev.Path, cur.Path):
		return events.TrackingRouteUpdated, true
	case cur.LastError == tracking.KindRouteUnavailable && prev.LastError != tracking.KindRouteUnavailable:
		return events.TrackingRouteFailed, true
	}
	return "", false
}

func (s *TrackingService) publishEvent(ctx context.Context, eventType string, live *liveSession, st tracking.State) {
	summary := summarize(st)
	evt := events.TrackingEvent{
		SessionID:  live.id,
		DeviceID:   live.deviceID,
		Status:     string(st.Status),
		DestLat:    st.Destination.Latitude,
		DestLng:    st.Destination.Longitude,
		LastError:  string(st.LastError),
		Version:    st.Version,
		OccurredAt: st.UpdatedAt,
	}
	if st.CurrentPosition != nil {
		lat, lng := st.CurrentPosition.Latitude, st.CurrentPosition.Longitude
		evt.Latitude = &lat
		evt.Longitude = &lng
	}
	if len(st.Path) > 0 {
		evt.Route = &summary
	}

	cloudEvent, err := events.NewCloudEvent(eventSource, eventType, evt)
	if err != nil {
		s.logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}

	if err := s.publisher.PublishEvent(ctx, events.TopicTrackingEvents, cloudEvent.WithSubject(live.id.String())); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("topic", events.TopicTrackingEvents),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// --- Helpers ---

func (s *TrackingService) liveSessions() []*liveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lives := make([]*liveSession, 0, len(s.sessions))
	for _, live := range s.sessions {
		lives = append(lives, live)
	}
	return lives
}

// abandon undoes a StartSession whose caller went away before the prompt was issued.
// The start context is cancelled before Stop, so Start either stays Idle or is stopped.
func (s *TrackingService) abandon(live *liveSession, cancelStart context.CancelFunc) {
	cancelStart()
	live.session.Stop()

	s.mu.Lock()
	delete(s.sessions, live.id)
	s.mu.Unlock()
	live.closeSubscribers()

	s.logger.Info("tracking session abandoned before start",
		zap.String("session_id", live.id.String()),
		zap.String("device_id", live.deviceID.String()),
	)
}

func (s *TrackingService) lookup(sessionID uuid.UUID) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.sessions[sessionID]
	return live, ok
}

// requireLive returns a session this process runs. A session known only from its
// snapshot cannot be driven any more and yields a ConflictError.
func (s *TrackingService) requireLive(ctx context.Context, sessionID uuid.UUID) (*liveSession, error) {
	if live, ok := s.lookup(sessionID); ok {
		return live, nil
	}
	if _, err := s.repo.FindByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return nil, apperror.NewConflictError(fmt.Sprintf("tracking session %s is no longer live", sessionID))
}

func (l *liveSession) dto(st tracking.State) SessionDTO {
	dto := toSessionDTO(l.id, l.deviceID, l.createdAt, st)
	dto.Live = true
	return dto
}

func (l *liveSession) closeSubscribers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, sub := range l.subscribers {
		delete(l.subscribers, id)
		close(sub)
	}
}

func snapshotDTO(snap *tracking.Snapshot) SessionDTO {
	return toSessionDTO(snap.SessionID, snap.DeviceID, snap.CreatedAt, snap.State)
}

func toSessionDTO(id, deviceID uuid.UUID, createdAt time.Time, st tracking.State) SessionDTO {
	path := st.Path.Clone()
	if path == nil {
		path = tracking.Path{}
	}
	var pos *tracking.Coordinate
	if st.CurrentPosition != nil {
		p := *st.CurrentPosition
		pos = &p
	}
	return SessionDTO{
		ID:              id,
		DeviceID:        deviceID,
		Status:          string(st.Status),
		CurrentPosition: pos,
		Destination:     st.Destination,
		Path:            path,
		Route:           summarize(st),
		LastError:       string(st.LastError),
		Version:         st.Version,
		CreatedAt:       createdAt,
		UpdatedAt:       st.UpdatedAt,
	}
}

// summarize reports the path length and the straight-line distance still to go.
func summarize(st tracking.State) events.RouteSummary {
	summary := events.RouteSummary{
		Points:     len(st.Path),
		DistanceKm: roundKm(st.Path.LengthMeters()),
	}
	if st.CurrentPosition != nil {
		summary.RemainingKm = roundKm(tracking.DistanceMeters(*st.CurrentPosition, st.Destination))
	}
	return summary
}

func roundKm(meters float64) float64 {
	return math.Round(meters/10) / 100
}

func samePath(a, b tracking.Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isActive reports whether a session is running or has not been started yet.
func isActive(st tracking.State) bool {
	if st.Version == 0 {
		return true
	}
	return st.Status != tracking.StatusIdle && st.Status != tracking.StatusFailed
}
