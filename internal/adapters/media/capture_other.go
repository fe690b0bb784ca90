//go:build !linux || !cgo

package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
)

// CaptureSource on non-linux platforms has no device drivers wired in;
// it yields no local tracks so calls run receive-only.
type CaptureSource struct {
	mu       sync.Mutex
	disabled map[webrtc.RTPCodecType]bool
}

var _ core.MediaSource = (*CaptureSource)(nil)

func NewCaptureSource() (*CaptureSource, error) {
	return &CaptureSource{disabled: make(map[webrtc.RTPCodecType]bool)}, nil
}

func (s *CaptureSource) API() (*webrtc.API, error) {
	return defaultAPI()
}

func (s *CaptureSource) Acquire(_ context.Context) ([]webrtc.TrackLocal, error) {
	log.Warn().Str("module", "media").Msg("no capture drivers on this platform, receive-only")
	return nil, nil
}

func (s *CaptureSource) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	s.mu.Lock()
	s.disabled[kind] = !enabled
	s.mu.Unlock()
}

func (s *CaptureSource) Release() {}
