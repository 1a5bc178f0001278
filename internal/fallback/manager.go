// Package fallback manages per-slot fallback images and decides what a
// viewer renders for each slot.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/storage"
)

// MaxImageSize bounds an uploaded fallback image.
const MaxImageSize = 8 << 20

const keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
}

// Manager stores fallback images and flips the per-slot override.
type Manager struct {
	store signaling.Store
	blobs storage.BlobStore
}

// NewManager creates a Manager.
func NewManager(store signaling.Store, blobs storage.BlobStore) *Manager {
	return &Manager{store: store, blobs: blobs}
}

// ToggleResult is the slot's fallback state after a toggle.
type ToggleResult struct {
	Enabled  bool    `json:"isUsingFallback"`
	ImageURL *string `json:"fallbackImageUrl"`
}

// Upload stores image and records its URL on the slot. Whether the fallback
// is in use is left unchanged. A previously uploaded image is replaced and
// its blob removed.
func (m *Manager) Upload(ctx context.Context, showID string, slot domain.SlotID, image []byte, contentType string) (string, error) {
	if !slot.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}
	if len(image) == 0 || len(image) > MaxImageSize {
		return "", fmt.Errorf("%w: image size %d", domain.ErrInvalidArgument, len(image))
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", domain.ErrInvalidArgument, contentType)
	}
	image, err := normalize(image, contentType)
	if err != nil {
		return "", err
	}

	id, err := gonanoid.Generate(keyAlphabet, 12)
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	key := fmt.Sprintf("fallbacks/%s/%s-%s%s", showID, slot, id, ext)
	url, err := m.blobs.Upload(ctx, image, key, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageUpload, err)
	}

	var previous *string
	err = m.store.Update(ctx, broadcast.RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		previous = nil
		if _, err := doc.Decode(broadcast.CameraField(slot, broadcast.CamFallbackURL), &previous); err != nil {
			return nil, err
		}
		return []signaling.Op{signaling.Set(broadcast.CameraField(slot, broadcast.CamFallbackURL), url)}, nil
	})
	if err != nil {
		m.deleteBlob(ctx, url)
		return "", err
	}

	if previous != nil && *previous != "" && *previous != url {
		m.deleteBlob(ctx, *previous)
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldShowID, showID).
		Str(log.FieldSlotID, string(slot)).
		Str("url", url).
		Msg("fallback image uploaded")
	return url, nil
}

// Remove clears the slot's image and forces the fallback off, then deletes
// the blob. Blob deletion is best-effort. A slot with no entry is left
// alone. It reports whether the fallback was in use before the call.
func (m *Manager) Remove(ctx context.Context, showID string, slot domain.SlotID) (bool, error) {
	if !slot.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}

	var (
		previous *string
		wasOn    bool
	)
	err := m.store.Update(ctx, broadcast.RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		cam, err := broadcast.DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}
		previous, wasOn = nil, false
		if cam == nil {
			return nil, nil
		}
		previous, wasOn = cam.FallbackImageURL, cam.IsUsingFallback
		return []signaling.Op{
			signaling.Set(broadcast.CameraField(slot, broadcast.CamFallbackURL), nil),
			signaling.Set(broadcast.CameraField(slot, broadcast.CamUseFallback), false),
		}, nil
	})
	if err != nil {
		return false, err
	}

	if previous != nil && *previous != "" {
		m.deleteBlob(ctx, *previous)
	}
	return wasOn, nil
}

// Toggle flips the slot's fallback override. Enabling it without an image
// fails with ErrNoFallbackImage and changes nothing.
func (m *Manager) Toggle(ctx context.Context, showID string, slot domain.SlotID) (*ToggleResult, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}

	var result ToggleResult
	err := m.store.Update(ctx, broadcast.RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		cam, err := broadcast.DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}

		enable := cam == nil || !cam.IsUsingFallback
		if enable && !cam.HasFallbackImage() {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoFallbackImage, slot)
		}

		result = ToggleResult{Enabled: enable}
		if cam != nil {
			result.ImageURL = cam.FallbackImageURL
		}
		return []signaling.Op{signaling.Set(broadcast.CameraField(slot, broadcast.CamUseFallback), enable)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *Manager) deleteBlob(ctx context.Context, url string) {
	err := m.blobs.Delete(ctx, url)
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		return
	}
	l := log.Ctx(ctx)
	l.Warn().Err(err).Str("url", url).Msg("failed to delete fallback image")
}
