//go:build integration

package main_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/events"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/location"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/routing"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// trackingStack holds wired-up live tracking components.
type trackingStack struct {
	Service         *application.TrackingService
	Repo            *repository.GormSnapshotRepository
	Consumer        *events.LocationEventConsumer
	CleanupProducer func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers and returns a connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	// Start PostgreSQL container with log-based wait strategy.
	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_livetrack",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=test_livetrack sslmode=disable", pgHost, pgPort.Port())

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return false
		}
		sqlDB, err := db.DB()
		if err != nil {
			return false
		}
		return sqlDB.Ping() == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, db.AutoMigrate(&repository.SnapshotModel{}))

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers, events.TopicTrackingEvents, events.TopicRunnerLocations)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// newDirectionsServer fakes the directions API with a straight two-point route.
func newDirectionsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req struct {
			Coordinates [][2]float64 `json:"coordinates"`
		}
		if err := json.Unmarshal(body, &req); err != nil || len(req.Coordinates) != 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"type": "FeatureCollection",
			"features": []interface{}{map[string]interface{}{
				"type":       "Feature",
				"properties": map[string]interface{}{},
				"geometry": map[string]interface{}{
					"type":        "LineString",
					"coordinates": req.Coordinates,
				},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupTrackingStack wires up the full live tracking stack.
func setupTrackingStack(t *testing.T, db *gorm.DB, brokers []string) *trackingStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	directions := newDirectionsServer(t)
	routes := routing.NewClient(routing.Config{
		BaseURL: directions.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, directions.Client(), logger)

	repo := repository.NewGormSnapshotRepository(db)
	producer := events.NewProducer(brokers, logger)
	hub := location.NewHub(location.DefaultMinDistanceMeters, logger)
	svc := application.NewTrackingService(hub, routes, nil, repo, producer,
		application.TrackingOptions{RouteTimeout: 5 * time.Second, PromptTimeout: 30 * time.Second},
		logger,
	)

	groupID := fmt.Sprintf("test-livetrack-%s", uuid.New().String()[:8])
	consumer := events.NewLocationEventConsumer(brokers, groupID, hub, logger)

	return &trackingStack{
		Service:  svc,
		Repo:     repo,
		Consumer: consumer,
		CleanupProducer: func() {
			svc.Shutdown()
			_ = producer.Close()
		},
	}
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType, subject string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := events.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := events.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce.WithSubject(subject))
	require.NoError(t, err, "failed to publish event")
}

// waitForSnapshot polls the snapshots table until cond holds.
func waitForSnapshot(t *testing.T, db *gorm.DB, sessionID uuid.UUID, timeout time.Duration, cond func(repository.SnapshotModel) bool) repository.SnapshotModel {
	t.Helper()
	var result repository.SnapshotModel
	require.Eventually(t, func() bool {
		var model repository.SnapshotModel
		if err := db.Where("session_id = ?", sessionID).First(&model).Error; err != nil {
			return false
		}
		if cond(model) {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "snapshot of session %s never matched", sessionID)
	return result
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) events.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := events.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
