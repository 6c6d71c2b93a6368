//go:build integration

package main_test

import (
	"context"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/events"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunnerLocations_DriveSession verifies that permission and location events
// published to runner.locations move a session to tracking, that the snapshot is
// persisted, and that a tracking.route.updated event is emitted.
func TestRunnerLocations_DriveSession(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupTrackingStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	// Start the consumer.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Consumer.Start(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	deviceID := uuid.New()
	lat, lng := 37.1, -122.1
	dto, err := stack.Service.StartSession(ctx, deviceID, application.StartSessionRequest{
		Destination: application.CoordinateRequest{Latitude: &lat, Longitude: &lng},
	})
	require.NoError(t, err)

	publishTestEvent(t, infra.KafkaBrokers, events.TopicRunnerLocations,
		"runner-gateway", events.RunnerPermissionChanged, deviceID.String(),
		events.RunnerPermissionEvent{DeviceID: deviceID, Granted: true})
	publishTestEvent(t, infra.KafkaBrokers, events.TopicRunnerLocations,
		"runner-gateway", events.RunnerLocationUpdated, deviceID.String(),
		events.RunnerLocationEvent{DeviceID: deviceID, Latitude: 37.0, Longitude: -122.0, RecordedAt: time.Now().UTC()})

	// Assert: the persisted snapshot reaches tracking with a two-point path.
	model := waitForSnapshot(t, infra.DB, dto.ID, 20*time.Second, func(m repository.SnapshotModel) bool {
		return m.Status == string(tracking.StatusTracking) && len(m.Path) > 2
	})
	require.NotNil(t, model.CurrentLat)
	assert.Equal(t, 37.0, *model.CurrentLat)
	assert.Equal(t, deviceID, model.DeviceID)

	snap, err := stack.Repo.FindByID(ctx, dto.ID)
	require.NoError(t, err)
	require.Len(t, snap.State.Path, 2)
	assert.Equal(t, tracking.Coordinate{Latitude: 37.0, Longitude: -122.0}, snap.State.Path[0])
	assert.Equal(t, tracking.Coordinate{Latitude: 37.1, Longitude: -122.1}, snap.State.Path[1])

	// Assert: tracking.route.updated on tracking.events.
	ce := consumeOneEvent(t, infra.KafkaBrokers, events.TopicTrackingEvents,
		events.TrackingRouteUpdated, 15*time.Second)

	var updated events.TrackingEvent
	require.NoError(t, ce.ParseData(&updated))
	assert.Equal(t, dto.ID, updated.SessionID)
	assert.Equal(t, deviceID, updated.DeviceID)
	require.NotNil(t, updated.Route)
	assert.Equal(t, 2, updated.Route.Points)
}

// TestSnapshotRepository_VersionGuard verifies that an older snapshot never
// overwrites a newer one.
func TestSnapshotRepository_VersionGuard(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	repo := repository.NewGormSnapshotRepository(infra.DB)
	ctx := context.Background()
	sessionID, deviceID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	newer := &tracking.Snapshot{
		SessionID: sessionID,
		DeviceID:  deviceID,
		CreatedAt: now,
		State: tracking.State{
			Status:      tracking.StatusTracking,
			Destination: tracking.Coordinate{Latitude: 1, Longitude: 1},
			Version:     5,
			UpdatedAt:   now,
		},
	}
	require.NoError(t, repo.Upsert(ctx, newer))

	older := *newer
	older.State.Status = tracking.StatusAwaitingFix
	older.State.Version = 3
	require.NoError(t, repo.Upsert(ctx, &older))

	got, err := repo.FindByID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.State.Version)
	assert.Equal(t, tracking.StatusTracking, got.State.Status)

	latest := *newer
	latest.State.Status = tracking.StatusIdle
	latest.State.Version = 6
	require.NoError(t, repo.Upsert(ctx, &latest))

	snaps, total, err := repo.ListByDevice(ctx, deviceID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, snaps, 1)
	assert.Equal(t, tracking.StatusIdle, snaps[0].State.Status)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.Error(t, err)
}
