package recording

import (
	"time"

	"github.com/pion/rtp"
)

// rebaser rewrites sequence numbers and timestamps so the muxer sees one
// continuous stream across source switches.
type rebaser struct {
	clockRate uint32

	started   bool
	fresh     bool
	seqOffset uint16
	tsOffset  uint32
	lastSeq   uint16
	lastTS    uint32
	lastAt    time.Time
}

func newRebaser(clockRate uint32) *rebaser {
	return &rebaser{clockRate: clockRate, fresh: true}
}

// next marks the following packet as the first of a new source.
func (r *rebaser) next() {
	r.fresh = true
}

func (r *rebaser) rebase(pkt *rtp.Packet, now time.Time) {
	if r.fresh {
		r.fresh = false
		if r.started {
			elapsed := max(now.Sub(r.lastAt), 0)
			gap := uint32(elapsed * time.Duration(r.clockRate) / time.Second)
			if gap == 0 {
				gap = 1
			}
			r.seqOffset = r.lastSeq + 1 - pkt.SequenceNumber
			r.tsOffset = r.lastTS + gap - pkt.Timestamp
		}
		r.started = true
	}

	pkt.SequenceNumber += r.seqOffset
	pkt.Timestamp += r.tsOffset
	r.lastSeq = pkt.SequenceNumber
	r.lastTS = pkt.Timestamp
	r.lastAt = now
}
