package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the persisted form of a session's state.
type Snapshot struct {
	SessionID uuid.UUID
	DeviceID  uuid.UUID
	State     State
	CreatedAt time.Time
}

// SnapshotRepository defines the persistence contract for tracking snapshots.
type SnapshotRepository interface {
	// FindByID retrieves the latest snapshot of a session.
	FindByID(ctx context.Context, sessionID uuid.UUID) (*Snapshot, error)

	// ListByDevice retrieves snapshots of a device's sessions with pagination.
	ListByDevice(ctx context.Context, deviceID uuid.UUID, page, limit int) ([]*Snapshot, int64, error)

	// Upsert inserts a snapshot or replaces a stored one with a lower version.
	Upsert(ctx context.Context, snapshot *Snapshot) error

	// CountByStatus returns session counts grouped by last persisted status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
