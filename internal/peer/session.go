// Package peer owns the media connections between cameras and the director.
package peer

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is media this side sends.
type LocalTrack = webrtc.TrackLocal

// Session is one peer-to-peer media connection. Descriptors are opaque
// strings exchanged verbatim through the room document.
type Session interface {
	// CreateOffer produces the local offer with all candidates gathered.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer applies a remote offer and returns the local answer.
	CreateAnswer(ctx context.Context, offer string) (string, error)

	// ApplyAnswer applies the remote answer to a pending offer. It returns
	// domain.ErrStaleDescriptor when no offer is pending.
	ApplyAnswer(answer string) error

	// RemoteStreams delivers each incoming stream once to a single
	// consumer. The channel is closed by Close.
	RemoteStreams() <-chan *RemoteStream

	// RequestKeyframe asks the remote sender for a keyframe on every
	// incoming video stream.
	RequestKeyframe()

	// Close releases the connection and its tracks before returning.
	Close() error
}

// Factory creates sessions.
type Factory interface {
	// NewSession creates a session that sends the given local tracks.
	NewSession(local ...LocalTrack) (Session, error)
}

// RemoteStream is media arriving from the remote peer.
type RemoteStream struct {
	ID     string
	Kind   string
	Codec  string
	fanout *TrackFanout
}

// NewRemoteStream wraps a fan-out as a remote stream.
func NewRemoteStream(id, kind, codec string, f *TrackFanout) *RemoteStream {
	return &RemoteStream{ID: id, Kind: kind, Codec: codec, fanout: f}
}

// Tap returns a new independent reader of the stream's packets.
func (r *RemoteStream) Tap() *Tap {
	return r.fanout.Tap(DefaultTapBuffer)
}

// RequestKeyframe asks the sender for a fresh keyframe.
func (r *RemoteStream) RequestKeyframe() {
	r.fanout.RequestKeyframe()
}

// Done is closed when the stream ends.
func (r *RemoteStream) Done() <-chan struct{} {
	return r.fanout.Done()
}
