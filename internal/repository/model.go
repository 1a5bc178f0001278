package repository

import (
	"encoding/json"
	"time"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/database"
)

// RecordingModel is the GORM model for the recordings table.
type RecordingModel struct {
	ID             string        `gorm:"type:varchar(36);primaryKey"`
	ShowID         string        `gorm:"type:varchar(64);index;not null"`
	SourceCameraID string        `gorm:"type:varchar(16);not null"`
	Status         string        `gorm:"type:varchar(20);index;not null"`
	StartedAt      time.Time     `gorm:"index;not null"`
	DurationMs     int64         `gorm:"default:0"`
	ArtifactURL    string        `gorm:"type:varchar(1024)"`
	EventsURL      string        `gorm:"type:varchar(1024)"`
	Error          string        `gorm:"type:text"`
	Events         database.JSON `gorm:"type:text"`
	CreatedAt      time.Time     `gorm:"autoCreateTime"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for RecordingModel.
func (RecordingModel) TableName() string {
	return "recordings"
}

// ToDomain converts RecordingModel to a domain RecordingSession.
func (m *RecordingModel) ToDomain() (*domain.RecordingSession, error) {
	events := []domain.CameraEvent{}
	if len(m.Events) > 0 {
		if err := json.Unmarshal(m.Events, &events); err != nil {
			return nil, err
		}
	}
	return &domain.RecordingSession{
		ID:             m.ID,
		ShowID:         m.ShowID,
		SourceCameraID: domain.SlotID(m.SourceCameraID),
		StartedAt:      m.StartedAt,
		CameraEvents:   events,
		Status:         domain.RecordingStatus(m.Status),
		DurationMs:     m.DurationMs,
		ArtifactURL:    m.ArtifactURL,
		EventsURL:      m.EventsURL,
		Error:          m.Error,
	}, nil
}

// RecordingToModel converts a domain RecordingSession to RecordingModel.
func RecordingToModel(s *domain.RecordingSession) (*RecordingModel, error) {
	events := s.CameraEvents
	if events == nil {
		events = []domain.CameraEvent{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	return &RecordingModel{
		ID:             s.ID,
		ShowID:         s.ShowID,
		SourceCameraID: string(s.SourceCameraID),
		Status:         string(s.Status),
		StartedAt:      s.StartedAt.UTC(),
		DurationMs:     s.DurationMs,
		ArtifactURL:    s.ArtifactURL,
		EventsURL:      s.EventsURL,
		Error:          s.Error,
		Events:         database.JSON(raw),
	}, nil
}
