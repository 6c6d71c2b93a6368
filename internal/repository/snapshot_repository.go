package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/apperror"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotModel is the GORM model for the tracking_snapshots table.
type SnapshotModel struct {
	SessionID      uuid.UUID       `gorm:"type:uuid;primaryKey"`
	DeviceID       uuid.UUID       `gorm:"type:uuid;index;not null"`
	Status         string          `gorm:"not null;size:30;index"`
	CurrentLat     *float64        `gorm:""`
	CurrentLng     *float64        `gorm:""`
	DestinationLat float64         `gorm:"not null"`
	DestinationLng float64         `gorm:"not null"`
	Path           json.RawMessage `gorm:"type:jsonb"`
	LastError      string          `gorm:"size:40"`
	Version        int64           `gorm:"not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (SnapshotModel) TableName() string {
	return "tracking_snapshots"
}

// GormSnapshotRepository is the GORM-based implementation of tracking.SnapshotRepository.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository.
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// FindByID retrieves the latest snapshot of a session.
func (r *GormSnapshotRepository) FindByID(ctx context.Context, sessionID uuid.UUID) (*tracking.Snapshot, error) {
	var model SnapshotModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NewNotFoundError("TrackingSession", sessionID.String())
		}
		return nil, fmt.Errorf("failed to find snapshot by session ID: %w", err)
	}
	return toDomainSnapshot(&model)
}

// ListByDevice retrieves snapshots for a specific device with pagination.
func (r *GormSnapshotRepository) ListByDevice(ctx context.Context, deviceID uuid.UUID, page, limit int) ([]*tracking.Snapshot, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&SnapshotModel{}).Where("device_id = ?", deviceID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count device snapshots: %w", err)
	}

	var models []SnapshotModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find device snapshots: %w", err)
	}

	snapshots := make([]*tracking.Snapshot, len(models))
	for i := range models {
		s, err := toDomainSnapshot(&models[i])
		if err != nil {
			return nil, 0, err
		}
		snapshots[i] = s
	}
	return snapshots, total, nil
}

// Upsert inserts the snapshot, or overwrites the stored row only if it holds an older version.
func (r *GormSnapshotRepository) Upsert(ctx context.Context, snapshot *tracking.Snapshot) error {
	model, err := toSnapshotModel(snapshot)
	if err != nil {
		return fmt.Errorf("failed to convert snapshot to model: %w", err)
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"current_lat",
				"current_lng",
				"destination_lat",
				"destination_lng",
				"path",
				"last_error",
				"version",
				"updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "tracking_snapshots.version < excluded.version"},
			}},
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// CountByStatus returns session counts grouped by last persisted status.
func (r *GormSnapshotRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&SnapshotModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// --- Conversion Helpers ---

func toSnapshotModel(s *tracking.Snapshot) (*SnapshotModel, error) {
	path := s.State.Path
	if path == nil {
		path = tracking.Path{}
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal path: %w", err)
	}

	model := &SnapshotModel{
		SessionID:      s.SessionID,
		DeviceID:       s.DeviceID,
		Status:         string(s.State.Status),
		DestinationLat: s.State.Destination.Latitude,
		DestinationLng: s.State.Destination.Longitude,
		Path:           pathJSON,
		LastError:      string(s.State.LastError),
		Version:        s.State.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.State.UpdatedAt,
	}
	if pos := s.State.CurrentPosition; pos != nil {
		lat, lng := pos.Latitude, pos.Longitude
		model.CurrentLat = &lat
		model.CurrentLng = &lng
	}
	return model, nil
}

func toDomainSnapshot(m *SnapshotModel) (*tracking.Snapshot, error) {
	status, err := tracking.ParseSessionStatus(m.Status)
	if err != nil {
		return nil, err
	}

	var path tracking.Path
	if len(m.Path) > 0 {
		if err := json.Unmarshal(m.Path, &path); err != nil {
			return nil, fmt.Errorf("failed to unmarshal path: %w", err)
		}
	}

	state := tracking.State{
		Status: status,
		Destination: tracking.Coordinate{
			Latitude:  m.DestinationLat,
			Longitude: m.DestinationLng,
		},
		Path:      path,
		LastError: tracking.ErrorKind(m.LastError),
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
	if m.CurrentLat != nil && m.CurrentLng != nil {
		state.CurrentPosition = &tracking.Coordinate{Latitude: *m.CurrentLat, Longitude: *m.CurrentLng}
	}

	return &tracking.Snapshot{
		SessionID: m.SessionID,
		DeviceID:  m.DeviceID,
		State:     state,
		CreatedAt: m.CreatedAt,
	}, nil
}
