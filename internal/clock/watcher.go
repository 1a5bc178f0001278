package clock

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// DefaultTickInterval is how often a running clock is re-derived.
const DefaultTickInterval = time.Second

// Watcher re-derives one fixture's clock for a single subscriber. It emits a
// Reading on every state change and, while the clock runs during a live
// status, on every tick. The ticker exists only in that state.
type Watcher struct {
	interval time.Duration
	now      func() time.Time
	emit     func(Reading)

	mu       sync.Mutex
	state    LiveClockState
	tickStop chan struct{}
	closed   bool

	emitMu      sync.Mutex
	unsubscribe func()
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) WatcherOption {
	return func(w *Watcher) { w.now = now }
}

// Watch subscribes to the fixture's match document and calls emit with
// derived readings until Close.
func Watch(ctx context.Context, store signaling.Store, fixtureID string, emit func(Reading), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		interval: DefaultTickInterval,
		now:      time.Now,
		emit:     emit,
	}
	for _, opt := range opts {
		opt(w)
	}

	l := log.Ctx(ctx)
	unsubscribe, err := store.Subscribe(ctx, MatchPath(fixtureID), func(doc signaling.Document) {
		s, err := DecodeState(doc)
		if err != nil {
			l.Error().Err(err).Str(log.FieldFixtureID, fixtureID).Msg("failed to decode match clock")
			return
		}
		w.apply(s)
	})
	if err != nil {
		return nil, err
	}
	w.unsubscribe = unsubscribe
	return w, nil
}

// Ticking reports whether the recurring timer is active.
func (w *Watcher) Ticking() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tickStop != nil
}

// Close stops the subscription and the timer.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.stopTickerLocked()
	w.mu.Unlock()

	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}

func (w *Watcher) apply(s LiveClockState) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.state = s
	if s.IsRunning && s.Live() {
		if w.tickStop == nil {
			w.tickStop = make(chan struct{})
			go w.tick(w.tickStop)
		}
	} else {
		w.stopTickerLocked()
	}
	w.mu.Unlock()

	w.publish(s)
}

func (w *Watcher) stopTickerLocked() {
	if w.tickStop != nil {
		close(w.tickStop)
		w.tickStop = nil
	}
}

func (w *Watcher) tick(stop <-chan struct{}) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !w.publishCurrent(stop) {
				return
			}
		}
	}
}

// publishCurrent emits the latest state unless stop is closed. The state is
// read while holding emitMu so a tick can never emit after a newer change.
func (w *Watcher) publishCurrent(stop <-chan struct{}) bool {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	s := w.state
	w.mu.Unlock()

	select {
	case <-stop:
		return false
	default:
	}
	w.emit(Read(s, w.now()))
	return true
}

func (w *Watcher) publish(s LiveClockState) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	w.emit(Read(s, w.now()))
}
