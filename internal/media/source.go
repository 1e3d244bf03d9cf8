// Package media provides the local track sets a participant publishes.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ErrMediaUnavailable is returned when a capture source cannot produce a
// stream. Callers keep going with whatever tracks they already have.
var ErrMediaUnavailable = errors.New("media unavailable")

// Source acquires local media
type Source interface {
	UserMedia(ctx context.Context) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// Stream is a set of local tracks released together
type Stream struct {
	tracks  []webrtc.TrackLocal
	onStop  func()
	once    sync.Once
	stopped atomic.Bool
	ended   chan struct{}
}

// NewStream wraps tracks; onStop (may be nil) runs on the first Stop only.
func NewStream(tracks []webrtc.TrackLocal, onStop func()) *Stream {
	return &Stream{tracks: tracks, onStop: onStop, ended: make(chan struct{})}
}

// Ended is closed once the stream stops, whether the holder called Stop or
// the source ended the capture itself.
func (s *Stream) Ended() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.ended
}

// Tracks returns a copy of the stream's tracks
func (s *Stream) Tracks() []webrtc.TrackLocal {
	if s == nil {
		return nil
	}
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

// Stop releases the stream. Safe to call more than once.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.stopped.Store(true)
		if s.onStop != nil {
			s.onStop()
		}
		close(s.ended)
	})
}

func (s *Stream) Stopped() bool {
	return s != nil && s.stopped.Load()
}

const (
	opusPayloadType = 111
	opusFrame       = 20 * time.Millisecond
	opusSamples     = 960 // 20ms at 48kHz
)

// opusSilence is a single Opus frame (CELT, 20ms) decoding to silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic produces generated tracks for headless participants: an Opus
// audio track fed with silence and a VP8 camera track. Display capture is a
// second VP8 track labelled "screen".
type Synthetic struct {
	streamID string
	log      logging.LeveledLogger

	// Unavailable makes every capture fail, like a denied permission prompt
	Unavailable bool
	// ScreenLimit ends display captures on their own after this long
	ScreenLimit time.Duration
}

func NewSynthetic(streamID string, loggerFactory logging.LoggerFactory) *Synthetic {
	return &Synthetic{
		streamID: streamID,
		log:      loggerFactory.NewLogger("media"),
	}
}

// UserMedia returns an audio and a camera track. The audio track carries
// RTP silence until the stream is stopped.
func (s *Synthetic) UserMedia(ctx context.Context) (*Stream, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio-"+s.streamID,
		s.streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", ErrMediaUnavailable, err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+s.streamID,
		s.streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %v", ErrMediaUnavailable, err)
	}

	quit := make(chan struct{})
	go s.pumpSilence(audio, quit)

	s.log.Infof("Camera and microphone acquired for %s", s.streamID)
	return NewStream([]webrtc.TrackLocal{audio, video}, func() {
		close(quit)
		s.log.Infof("Camera and microphone released for %s", s.streamID)
	}), nil
}

// DisplayMedia returns a single screen video track
func (s *Synthetic) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen-"+s.streamID,
		s.streamID+"-screen",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: screen track: %v", ErrMediaUnavailable, err)
	}

	s.log.Infof("Screen capture started for %s", s.streamID)
	stream := NewStream([]webrtc.TrackLocal{screen}, func() {
		s.log.Infof("Screen capture stopped for %s", s.streamID)
	})
	if s.ScreenLimit > 0 {
		go func() {
			timer := time.NewTimer(s.ScreenLimit)
			defer timer.Stop()
			select {
			case <-timer.C:
				stream.Stop()
			case <-stream.Ended():
			}
		}()
	}
	return stream, nil
}

func (s *Synthetic) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	if s.Unavailable {
		return fmt.Errorf("%w: capture disabled", ErrMediaUnavailable)
	}
	return nil
}

func (s *Synthetic) pumpSilence(track *webrtc.TrackLocalStaticRTP, quit <-chan struct{}) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    opusPayloadType,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: opusSilence,
			}
			seq++
			ts += opusSamples
			if err := track.WriteRTP(packet); err != nil {
				s.log.Debugf("Failed to write silence: %v", err)
			}
		}
	}
}
