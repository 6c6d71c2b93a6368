package events

import (
	"context"
	"encoding/json"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LocationSink receives device fixes and permission answers.
type LocationSink interface {
	Publish(deviceID uuid.UUID, c tracking.Coordinate) error
	SetPermission(deviceID uuid.UUID, granted bool)
}

// LocationEventConsumer listens to runner location events and feeds them to the sink.
type LocationEventConsumer struct {
	consumer *Consumer
	sink     LocationSink
	logger   *zap.Logger
}

// NewLocationEventConsumer creates a new LocationEventConsumer.
func NewLocationEventConsumer(
	brokers []string,
	groupID string,
	sink LocationSink,
	logger *zap.Logger,
) *LocationEventConsumer {
	return &LocationEventConsumer{
		consumer: NewConsumer(brokers, groupID, TopicRunnerLocations, logger),
		sink:     sink,
		logger:   logger,
	}
}

// Start begins consuming runner location events. This blocks until the context is cancelled.
func (c *LocationEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *LocationEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *LocationEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	var cloudEvent CloudEvent
	if err := json.Unmarshal(msg.Value, &cloudEvent); err != nil {
		c.logger.Error("failed to parse cloud event from runner location topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case RunnerLocationUpdated:
		return c.handleLocationUpdated(cloudEvent)
	case RunnerPermissionChanged:
		return c.handlePermissionChanged(cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled runner event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *LocationEventConsumer) handleLocationUpdated(cloudEvent CloudEvent) error {
	var evt RunnerLocationEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse RunnerLocationEvent data", zap.Error(err))
		return nil
	}

	fix := tracking.Coordinate{Latitude: evt.Latitude, Longitude: evt.Longitude}
	if err := c.sink.Publish(evt.DeviceID, fix); err != nil {
		// Out-of-range fixes will never become valid; skip rather than redeliver.
		c.logger.Warn("dropping runner location",
			zap.String("device_id", evt.DeviceID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (c *LocationEventConsumer) handlePermissionChanged(cloudEvent CloudEvent) error {
	var evt RunnerPermissionEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse RunnerPermissionEvent data", zap.Error(err))
		return nil
	}

	c.sink.SetPermission(evt.DeviceID, evt.Granted)
	return nil
}
