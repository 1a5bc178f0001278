package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

// MemoryStore is an in-process Store. Documents are copied on every read
// and write so callers never share memory with the store.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]Document
	subs   map[string]map[uint64]*memorySub
	nextID uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		subs: make(map[string]map[uint64]*memorySub),
	}
}

type memorySub struct {
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *memorySub) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// GetDocument returns a copy of the document at path.
func (m *MemoryStore) GetDocument(ctx context.Context, path string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", path, domain.ErrNotFound)
	}
	return doc.Clone(), nil
}

// SetField writes one field.
func (m *MemoryStore) SetField(ctx context.Context, path, field string, value interface{}) error {
	return m.Update(ctx, path, func(Document) ([]Op, error) {
		return []Op{Set(field, value)}, nil
	})
}

// DeleteField removes a field and its descendants.
func (m *MemoryStore) DeleteField(ctx context.Context, path, field string) error {
	return m.Update(ctx, path, func(Document) ([]Op, error) {
		return []Op{Delete(field)}, nil
	})
}

// Update applies fn's ops under the store lock.
func (m *MemoryStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.docs[path]
	ops, err := fn(current.Clone())
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	encoded, err := encodeOps(ops)
	if err != nil {
		return err
	}

	next := current.Clone()
	apply(next, encoded)
	m.docs[path] = next

	for _, sub := range m.subs[path] {
		sub.signal()
	}
	return nil
}

// Subscribe registers onChange for path.
func (m *MemoryStore) Subscribe(ctx context.Context, path string, onChange func(Document)) (func(), error) {
	sub := &memorySub{
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if m.subs[path] == nil {
		m.subs[path] = make(map[uint64]*memorySub)
	}
	m.subs[path][id] = sub
	m.mu.Unlock()

	sub.signal()
	go m.deliver(ctx, path, sub, onChange)

	unsubscribe := func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.subs[path], id)
			if len(m.subs[path]) == 0 {
				delete(m.subs, path)
			}
			m.mu.Unlock()
			close(sub.done)
		})
		<-sub.stopped
	}
	return unsubscribe, nil
}

func (m *MemoryStore) deliver(ctx context.Context, path string, sub *memorySub, onChange func(Document)) {
	defer close(sub.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.notify:
		}

		m.mu.Lock()
		snapshot := m.docs[path].Clone()
		m.mu.Unlock()

		select {
		case <-sub.done:
			return
		default:
		}
		onChange(snapshot)
	}
}
