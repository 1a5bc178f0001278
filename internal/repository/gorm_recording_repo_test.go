package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/database"
)

func newTestRepo(t *testing.T) *GormRecordingRepository {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		LogLevel: "silent",
	})
	require.NoError(t, err)

	repo := NewGormRecordingRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func TestGormRecordingRepository_SaveAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	started := time.Date(2026, 4, 11, 14, 0, 0, 0, time.UTC)
	session := &domain.RecordingSession{
		ID:             "rec-1",
		ShowID:         "fixture-9",
		SourceCameraID: domain.Camera1,
		StartedAt:      started,
		Status:         domain.RecordingActive,
	}
	require.NoError(t, repo.Save(ctx, session))

	got, err := repo.GetByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingActive, got.Status)
	assert.Empty(t, got.CameraEvents)
	assert.True(t, started.Equal(got.StartedAt))

	on := true
	session.Status = domain.RecordingCompleted
	session.DurationMs = 75000
	session.ArtifactURL = "https://cdn.test/rec-1.ivf"
	session.CameraEvents = []domain.CameraEvent{
		{Type: domain.EventCameraSwitch, TimestampMs: 12000, FromCameraID: domain.SlotPtr(domain.Camera1), ToCameraID: domain.SlotPtr(domain.Camera3)},
		{Type: domain.EventFallbackToggle, TimestampMs: 40000, CameraID: domain.SlotPtr(domain.Camera3), IsFallbackOn: &on},
	}
	require.NoError(t, repo.Save(ctx, session))

	got, err = repo.GetByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingCompleted, got.Status)
	assert.Equal(t, int64(75000), got.DurationMs)
	assert.Equal(t, "https://cdn.test/rec-1.ivf", got.ArtifactURL)
	assert.Equal(t, session.CameraEvents, got.CameraEvents)
}

func TestGormRecordingRepository_GetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordingNotFound)
}

func TestGormRecordingRepository_ListByShow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	base := time.Date(2026, 4, 11, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, &domain.RecordingSession{
			ID:             fmt.Sprintf("rec-%d", i),
			ShowID:         "fixture-9",
			SourceCameraID: domain.Camera2,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			Status:         domain.RecordingCompleted,
		}))
	}
	require.NoError(t, repo.Save(ctx, &domain.RecordingSession{
		ID: "other", ShowID: "fixture-10", SourceCameraID: domain.Camera1, StartedAt: base, Status: domain.RecordingFailed,
	}))

	page, total, err := repo.ListByShow(ctx, "fixture-9", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "rec-4", page[0].ID)
	assert.Equal(t, "rec-3", page[1].ID)

	page, _, err = repo.ListByShow(ctx, "fixture-9", 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "rec-0", page[0].ID)
}
