// Package media supplies local track sets for the transport session:
// hardware capture where the platform supports it, or synthetic sample
// tracks for headless runs and tests.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// SampleSource feeds TrackLocalStaticSample tracks from ticker loops.
// SetTrackEnabled gates the writers, which is a real mute: nothing is
// emitted while disabled, and no renegotiation happens on toggle.
type SampleSource struct {
	mu       sync.Mutex
	acquired bool
	stop     chan struct{}

	audioOn atomic.Bool
	videoOn atomic.Bool

	audioSamples atomic.Uint64
	videoSamples atomic.Uint64
}

var _ core.MediaSource = (*SampleSource)(nil)

func NewSampleSource() *SampleSource {
	s := &SampleSource{}
	s.audioOn.Store(true)
	s.videoOn.Store(true)
	return s
}

// API returns the webrtc API sessions must be built from so the offer
// advertises codecs matching these tracks.
func (s *SampleSource) API() (*webrtc.API, error) {
	return defaultAPI()
}

func (s *SampleSource) Acquire(_ context.Context) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil, errors.New("source already acquired")
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "duplex-sample",
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "duplex-sample",
	)
	if err != nil {
		return nil, err
	}

	s.acquired = true
	s.stop = make(chan struct{})
	go s.writeLoop(s.stop, audio, audioFrameInterval, &s.audioOn, &s.audioSamples)
	go s.writeLoop(s.stop, video, videoFrameInterval, &s.videoOn, &s.videoSamples)

	log.Info().Str("module", "media").Msg("sample source acquired")
	return []webrtc.TrackLocal{audio, video}, nil
}

// writeLoop emits placeholder frames until Release. Writing to an
// unbound track is a no-op, so the loop can start before negotiation.
func (s *SampleSource) writeLoop(stop <-chan struct{}, track *webrtc.TrackLocalStaticSample, interval time.Duration, on *atomic.Bool, count *atomic.Uint64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	payload := make([]byte, 16)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !on.Load() {
				continue
			}
			if err := track.WriteSample(media.Sample{Data: payload, Duration: interval}); err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("sample write failed")
			}
			count.Add(1)
		}
	}
}

func (s *SampleSource) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		s.audioOn.Store(enabled)
	case webrtc.RTPCodecTypeVideo:
		s.videoOn.Store(enabled)
	}
	log.Info().Str("module", "media").Str("kind", kind.String()).Bool("enabled", enabled).Msg("track toggled")
}

func (s *SampleSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return
	}
	close(s.stop)
	s.acquired = false
	log.Info().Str("module", "media").Msg("sample source released")
}

// defaultAPI registers the default codecs and interceptors, the same
// way a browser endpoint would advertise them.
func defaultAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
