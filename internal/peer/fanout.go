package peer

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// DefaultTapBuffer is the per-tap packet queue length.
const DefaultTapBuffer = 256

// PacketReader is the read side of a remote track.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackFanout reads one remote track and copies every packet to any number
// of taps. Each tap has its own queue; a slow tap drops packets instead of
// stalling the reader or the other taps.
type TrackFanout struct {
	keyframe func()

	mu     sync.RWMutex
	taps   map[*Tap]struct{}
	closed bool
	done   chan struct{}
}

// NewTrackFanout creates a fan-out. keyframe, if set, is invoked by
// RequestKeyframe.
func NewTrackFanout(keyframe func()) *TrackFanout {
	return &TrackFanout{
		keyframe: keyframe,
		taps:     make(map[*Tap]struct{}),
		done:     make(chan struct{}),
	}
}

// Run copies packets from r until it fails, then closes the fan-out.
func (f *TrackFanout) Run(r PacketReader) error {
	defer f.Close()
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		f.Write(pkt)
	}
}

// Write delivers a copy of pkt to every tap.
func (f *TrackFanout) Write(pkt *rtp.Packet) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for t := range f.taps {
		select {
		case t.ch <- pkt.Clone():
		default:
			t.dropped.Add(1)
		}
	}
}

// Tap registers a new reader.
func (f *TrackFanout) Tap(buffer int) *Tap {
	t := &Tap{ch: make(chan *rtp.Packet, buffer), fanout: f}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(t.ch)
		t.removed = true
		return t
	}
	f.taps[t] = struct{}{}
	return t
}

// RequestKeyframe forwards a keyframe request to the sender.
func (f *TrackFanout) RequestKeyframe() {
	if f.keyframe != nil {
		f.keyframe()
	}
}

// Done is closed once the fan-out is closed.
func (f *TrackFanout) Done() <-chan struct{} {
	return f.done
}

// Close ends every tap.
func (f *TrackFanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for t := range f.taps {
		t.removed = true
		close(t.ch)
		delete(f.taps, t)
	}
	close(f.done)
}

func (f *TrackFanout) remove(t *Tap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.removed {
		return
	}
	t.removed = true
	delete(f.taps, t)
	close(t.ch)
}

// Tap is one reader of a TrackFanout.
type Tap struct {
	ch      chan *rtp.Packet
	fanout  *TrackFanout
	removed bool // guarded by fanout.mu
	dropped atomic.Int64
}

// ReadRTP returns the next packet, or io.EOF once the tap is closed.
func (t *Tap) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

// Dropped reports how many packets were discarded because the tap fell behind.
func (t *Tap) Dropped() int64 {
	return t.dropped.Load()
}

// RequestKeyframe forwards to the fan-out.
func (t *Tap) RequestKeyframe() {
	t.fanout.RequestKeyframe()
}

// Close detaches the tap.
func (t *Tap) Close() error {
	t.fanout.remove(t)
	return nil
}
