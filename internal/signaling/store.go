// Package signaling provides the shared, subscribable document store that
// camera clients and directors coordinate through.
package signaling

import (
	"context"
)

// UpdateFunc inspects the current document and returns the ops to apply.
// Returning an error aborts the update without mutating anything.
type UpdateFunc func(doc Document) ([]Op, error)

// Store is a document store with field-scoped atomic updates and push
// notification on change.
type Store interface {
	// GetDocument returns a copy of the document, or domain.ErrNotFound.
	GetDocument(ctx context.Context, path string) (Document, error)

	// SetField atomically writes one field, leaving siblings untouched.
	SetField(ctx context.Context, path, field string, value interface{}) error

	// DeleteField removes field and all of its descendants.
	DeleteField(ctx context.Context, path, field string) error

	// Update runs a check-then-set: fn sees the current document and the
	// returned ops are applied atomically, or not at all if the document
	// changed concurrently (fn is then re-run) or fn fails.
	Update(ctx context.Context, path string, fn UpdateFunc) error

	// Subscribe delivers a snapshot of the document immediately and after
	// every change, in order, on a goroutine owned by the store. A missing
	// document is delivered as empty. The returned func unsubscribes
	// synchronously: once it returns no further callbacks run. It must not
	// be called from within onChange.
	Subscribe(ctx context.Context, path string, onChange func(Document)) (func(), error)
}
