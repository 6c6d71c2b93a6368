package location

import (
	"sync"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub keeps one Feed per device.
type Hub struct {
	minDistance float64
	logger      *zap.Logger

	mu    sync.RWMutex
	feeds map[uuid.UUID]*Feed
}

// NewHub creates a Hub whose feeds filter movements below minDistance metres.
func NewHub(minDistance float64, logger *zap.Logger) *Hub {
	return &Hub{
		minDistance: minDistance,
		logger:      logger,
		feeds:       make(map[uuid.UUID]*Feed),
	}
}

// Feed returns the device's feed, creating it on first use.
func (h *Hub) Feed(deviceID uuid.UUID) *Feed {
	h.mu.RLock()
	f, ok := h.feeds[deviceID]
	h.mu.RUnlock()
	if ok {
		return f
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[deviceID]; ok {
		return f
	}
	f = NewFeed(deviceID, h.minDistance)
	h.feeds[deviceID] = f
	return f
}

// Source returns the device's feed as a LocationSource.
func (h *Hub) Source(deviceID uuid.UUID) tracking.LocationSource {
	return h.Feed(deviceID)
}

// Publish records a fix reported by a device.
func (h *Hub) Publish(deviceID uuid.UUID, c tracking.Coordinate) error {
	if err := h.Feed(deviceID).Publish(c); err != nil {
		h.logger.Warn("rejected device fix",
			zap.String("device_id", deviceID.String()),
			zap.Error(err),
		)
		return err
	}
	h.logger.Debug("device fix received",
		zap.String("device_id", deviceID.String()),
		zap.Float64("lat", c.Latitude),
		zap.Float64("lng", c.Longitude),
	)
	return nil
}

// SetPermission records a device's answer to the location prompt.
func (h *Hub) SetPermission(deviceID uuid.UUID, granted bool) {
	h.Feed(deviceID).SetPermission(granted)
	h.logger.Info("device location permission updated",
		zap.String("device_id", deviceID.String()),
		zap.Bool("granted", granted),
	)
}
