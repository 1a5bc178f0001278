package recording

import (
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// ContentTypeIVF is the artifact content type.
const ContentTypeIVF = "video/x-ivf"

// Muxer turns RTP packets into container bytes.
type Muxer interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// MuxerFactory opens a muxer writing to w.
type MuxerFactory func(w io.Writer) (Muxer, error)

// IVFMuxer returns a factory producing IVF muxers for the given codec.
func IVFMuxer(mimeType string) MuxerFactory {
	return func(w io.Writer) (Muxer, error) {
		return ivfwriter.NewWith(w, ivfwriter.WithCodec(mimeType))
	}
}
