package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

const remoteStreamBuffer = 4

// PionSession is a Session backed by a pion peer connection. Descriptors
// are exchanged complete; candidates are gathered before they are returned.
type PionSession struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu             sync.Mutex
	awaitingAnswer bool
	closed         bool
	fanouts        []*TrackFanout
	streams        chan *RemoteStream

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func newPionSession(pc *webrtc.PeerConnection, logger zerolog.Logger) *PionSession {
	s := &PionSession{
		pc:      pc,
		logger:  logger,
		streams: make(chan *RemoteStream, remoteStreamBuffer),
	}

	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug().Str("state", state.String()).Msg("peer connection state changed")
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.Debug().Str("state", state.String()).Msg("ice connection state changed")
	})
	return s
}

func (s *PionSession) addLocalTrack(track LocalTrack) error {
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track %s: %w", track.ID(), err)
	}

	// Interceptors only see incoming RTCP when it is read.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *PionSession) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	ssrc := uint32(track.SSRC())
	fanout := NewTrackFanout(func() {
		if err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			s.logger.Debug().Err(err).Msg("failed to send keyframe request")
		}
	})

	stream := NewRemoteStream(track.StreamID()+"/"+track.ID(), track.Kind().String(), track.Codec().MimeType, fanout)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.fanouts = append(s.fanouts, fanout)
	s.wg.Add(1)
	select {
	case s.streams <- stream:
	default:
		s.logger.Warn().Str("stream_id", stream.ID).Msg("remote stream dropped, consumer not reading")
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("stream_id", stream.ID).
		Str("kind", stream.Kind).
		Str("codec", stream.Codec).
		Msg("remote track received")

	go func() {
		defer s.wg.Done()
		if err := fanout.Run(track); err != nil {
			s.logger.Debug().Err(err).Str("stream_id", stream.ID).Msg("remote track ended")
		}
	}()
}

// CreateOffer creates and applies a local offer.
func (s *PionSession) CreateOffer(ctx context.Context) (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	sdp, err := s.setLocal(ctx, offer)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.awaitingAnswer = true
	s.mu.Unlock()
	return sdp, nil
}

// CreateAnswer applies a remote offer and returns the local answer.
func (s *PionSession) CreateAnswer(ctx context.Context, offer string) (string, error) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return s.setLocal(ctx, answer)
}

func (s *PionSession) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)

	if err := s.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after gathering")
	}
	return local.SDP, nil
}

// ApplyAnswer applies the remote answer to the pending offer.
func (s *PionSession) ApplyAnswer(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.awaitingAnswer {
		return domain.ErrStaleDescriptor
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	s.awaitingAnswer = false
	return nil
}

// RemoteStreams returns the incoming stream channel.
func (s *PionSession) RemoteStreams() <-chan *RemoteStream {
	return s.streams
}

// RequestKeyframe sends a PLI for every remote track.
func (s *PionSession) RequestKeyframe() {
	s.mu.Lock()
	fanouts := append([]*TrackFanout(nil), s.fanouts...)
	s.mu.Unlock()

	for _, f := range fanouts {
		f.RequestKeyframe()
	}
}

// Close closes the peer connection and waits for its readers to finish.
func (s *PionSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.closeErr = s.pc.Close()
		s.wg.Wait()

		s.mu.Lock()
		for _, f := range s.fanouts {
			f.Close()
		}
		close(s.streams)
		s.mu.Unlock()
	})
	return s.closeErr
}
