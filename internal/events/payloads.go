package events

import (
	"time"

	"github.com/google/uuid"
)

// RouteSummary is the compact route view carried on tracking events.
type RouteSummary struct {
	Points      int     `json:"points"`
	DistanceKm  float64 `json:"distance_km"`
	RemainingKm float64 `json:"remaining_km"`
}

// TrackingEvent is the payload of every tracking.* event.
type TrackingEvent struct {
	SessionID  uuid.UUID     `json:"session_id"`
	DeviceID   uuid.UUID     `json:"device_id"`
	Status     string        `json:"status"`
	Latitude   *float64      `json:"latitude,omitempty"`
	Longitude  *float64      `json:"longitude,omitempty"`
	DestLat    float64       `json:"destination_lat"`
	DestLng    float64       `json:"destination_lng"`
	Route      *RouteSummary `json:"route,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Version    int64         `json:"version"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// RunnerLocationEvent is a device fix published by the runner app gateway.
type RunnerLocationEvent struct {
	DeviceID   uuid.UUID `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RunnerPermissionEvent carries a device's answer to the location prompt.
type RunnerPermissionEvent struct {
	DeviceID uuid.UUID `json:"device_id"`
	Granted  bool      `json:"granted"`
}
