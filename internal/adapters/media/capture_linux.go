//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the V4L2 camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the malgo microphone driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
)

// CaptureSource opens the local camera and microphone through
// pion/mediadevices. Capture degrades gracefully: video+audio, then
// video-only, then audio-only, then the empty set (receive-only call).
type CaptureSource struct {
	mu       sync.Mutex
	selector *mediadevices.CodecSelector
	tracks   []mediadevices.Track
	disabled map[webrtc.RTPCodecType]bool
}

var _ core.MediaSource = (*CaptureSource)(nil)

func NewCaptureSource() (*CaptureSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &CaptureSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		disabled: make(map[webrtc.RTPCodecType]bool),
	}, nil
}

// API returns the webrtc API populated with this source's encoders;
// sessions carrying these tracks must be built from it.
func (s *CaptureSource) API() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	s.selector.Populate(mediaEngine)
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func (s *CaptureSource) Acquire(_ context.Context) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tracks) > 0 {
		return s.localTracksLocked(), nil
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: some cameras expose an MJPEG node
				// producing malformed frames that poison the encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("attempt", a.label).Msg("capture attempt failed")
			continue
		}

		s.tracks = stream.GetTracks()
		for _, track := range s.tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("module", "media").Msg("local track ended")
				}
			})
		}
		log.Info().Str("module", "media").Str("attempt", a.label).Int("tracks", len(s.tracks)).Msg("local media captured")
		return s.localTracksLocked(), nil
	}

	// No capturable device at all still allows a receive-only call.
	log.Warn().Str("module", "media").Msg("all capture attempts failed, receive-only")
	return nil, nil
}

func (s *CaptureSource) localTracksLocked() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// SetTrackEnabled records the mute state per kind. mediadevices tracks
// expose no encoder gate, so captured frames keep flowing to the peer
// while muted; the flag only feeds local UI state.
func (s *CaptureSource) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	s.mu.Lock()
	s.disabled[kind] = !enabled
	s.mu.Unlock()
	log.Info().Str("module", "media").Str("kind", kind.String()).Bool("enabled", enabled).Msg("track toggled")
}

func (s *CaptureSource) Release() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	for _, t := range tracks {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("track close")
		}
	}
	if len(tracks) > 0 {
		log.Info().Str("module", "media").Msg("capture released")
	}
}
