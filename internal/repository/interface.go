package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

var (
	ErrRecordingNotFound = errors.New("recording not found")
)

// RecordingRepository persists the recording catalog.
type RecordingRepository interface {
	Save(ctx context.Context, session *domain.RecordingSession) error
	GetByID(ctx context.Context, id string) (*domain.RecordingSession, error)
	ListByShow(ctx context.Context, showID string, page, pageSize int) ([]domain.RecordingSession, int, error)
}
