package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrForeignURL is returned when a URL was not produced by the backing storage.
var ErrForeignURL = errors.New("url does not belong to this storage")

// BlobStore is the upload/URL view of a Storage.
type BlobStore interface {
	// Upload stores data at destinationPath and returns its public URL.
	Upload(ctx context.Context, data []byte, destinationPath, contentType string) (string, error)
	// Delete removes the object behind url.
	Delete(ctx context.Context, url string) error
}

// Blobs adapts a Storage to BlobStore.
type Blobs struct {
	storage Storage
}

var _ BlobStore = (*Blobs)(nil)

// NewBlobs creates a BlobStore backed by s.
func NewBlobs(s Storage) *Blobs {
	return &Blobs{storage: s}
}

// Upload writes data and returns the object's URL.
func (b *Blobs) Upload(ctx context.Context, data []byte, destinationPath, contentType string) (string, error) {
	if err := b.storage.Write(ctx, destinationPath, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return b.storage.URL(destinationPath), nil
}

// Delete removes the object behind url. A missing object is reported as
// ErrObjectNotFound; callers doing best-effort cleanup can ignore it.
func (b *Blobs) Delete(ctx context.Context, url string) error {
	key, ok := b.storage.Key(url)
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return b.storage.Delete(ctx, key)
}
