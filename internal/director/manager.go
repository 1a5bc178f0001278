package director

import (
	"context"
	"errors"
	"sync"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

var errDirectorClosed = errors.New("director manager closed")

// Manager keeps one director per show.
type Manager struct {
	deps Deps

	mu        sync.Mutex
	directors map[string]*Director
	closed    bool
}

// NewManager creates a Manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:      deps,
		directors: make(map[string]*Director),
	}
}

// Get returns the show's director, starting one if needed.
func (m *Manager) Get(ctx context.Context, showID string) (*Director, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errDirectorClosed
	}
	if d, ok := m.directors[showID]; ok {
		return d, nil
	}

	d := New(showID, m.deps)
	if err := d.Start(ctx); err != nil {
		return nil, err
	}
	m.directors[showID] = d
	return d, nil
}

// Lookup returns the show's director if one is running.
func (m *Manager) Lookup(showID string) (*Director, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.directors[showID]
	return d, ok
}

// Snapshot returns the show's viewer snapshot without starting a director.
// When no director runs here, connected cameras count as live.
func (m *Manager) Snapshot(ctx context.Context, showID string) (*Snapshot, error) {
	if d, ok := m.Lookup(showID); ok {
		return d.Snapshot(ctx)
	}
	room, err := m.deps.Protocol.Room(ctx, showID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(room, nil), nil
}

// Live returns the running director's live check for showID, or nil.
func (m *Manager) Live(showID string) func(domain.SlotID) bool {
	if d, ok := m.Lookup(showID); ok {
		return d.HasLive
	}
	return nil
}

// Len reports how many shows have a running director.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.directors)
}

// CloseShow stops the show's director.
func (m *Manager) CloseShow(ctx context.Context, showID string) error {
	m.mu.Lock()
	d, ok := m.directors[showID]
	delete(m.directors, showID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return d.Close(ctx)
}

// Close stops every director. Recordings in progress are finalized; any
// that fail are logged and returned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	directors := m.directors
	m.directors = make(map[string]*Director)
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range directors {
		wg.Add(1)
		go func(d *Director) {
			defer wg.Done()
			if err := d.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()

	l := log.Ctx(ctx)
	l.Info().Int("shows", len(directors)).Int("failed", len(errs)).Msg("directors closed")
	return errors.Join(errs...)
}
