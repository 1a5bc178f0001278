package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// GormRecordingRepository implements RecordingRepository using GORM.
type GormRecordingRepository struct {
	db *gorm.DB
}

// NewGormRecordingRepository creates a new GORM-based recording repository.
func NewGormRecordingRepository(db *gorm.DB) *GormRecordingRepository {
	return &GormRecordingRepository{db: db}
}

// Migrate creates or updates the recordings table.
func (r *GormRecordingRepository) Migrate() error {
	return r.db.AutoMigrate(&RecordingModel{})
}

// Save inserts the session or updates its mutable columns.
func (r *GormRecordingRepository) Save(ctx context.Context, session *domain.RecordingSession) error {
	l := log.Ctx(ctx)

	model, err := RecordingToModel(session)
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "duration_ms", "artifact_url", "events_url", "error", "events", "updated_at",
		}),
	}).Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldRecordingID, session.ID).Msg("failed to save recording")
		return result.Error
	}

	l.Debug().Str(log.FieldRecordingID, session.ID).Str("status", model.Status).Msg("recording saved")
	return nil
}

// GetByID retrieves a recording by ID.
func (r *GormRecordingRepository) GetByID(ctx context.Context, id string) (*domain.RecordingSession, error) {
	l := log.Ctx(ctx)

	var model RecordingModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordingNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldRecordingID, id).Msg("failed to get recording by id")
		return nil, result.Error
	}
	return model.ToDomain()
}

// ListByShow retrieves a show's recordings, newest first.
func (r *GormRecordingRepository) ListByShow(ctx context.Context, showID string, page, pageSize int) ([]domain.RecordingSession, int, error) {
	l := log.Ctx(ctx)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := r.db.WithContext(ctx).Model(&RecordingModel{}).Where("show_id = ?", showID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		l.Error().Err(err).Msg("failed to count recordings")
		return nil, 0, err
	}

	var models []RecordingModel
	if err := query.Order("started_at DESC").Offset(offset).Limit(pageSize).Find(&models).Error; err != nil {
		l.Error().Err(err).Msg("failed to list recordings from db")
		return nil, 0, err
	}

	sessions := make([]domain.RecordingSession, 0, len(models))
	for i := range models {
		s, err := models[i].ToDomain()
		if err != nil {
			return nil, 0, fmt.Errorf("decode recording %s: %w", models[i].ID, err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, int(total), nil
}
