// Package rtc owns the pion PeerConnection for one call attempt.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

func DefaultWebRTCConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	servers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, u := range stunServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Session wraps one PeerConnection. It observes the ICE connection
// state, it never drives it; the only state it owns is the candidate
// buffer and the closed flag.
type Session struct {
	pc         *webrtc.PeerConnection
	role       domain.Role
	remotePeer domain.PeerID

	mu           sync.Mutex
	closed       bool
	remoteSet    bool
	pendingCands []webrtc.ICECandidateInit
	lastState    webrtc.ICEConnectionState

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.ICEConnectionState)
	onTrack     func(*webrtc.TrackRemote)
}

// NewSession creates the underlying transport and attaches localTracks.
// The api must be the one whose media engine knows the tracks' codecs;
// nil selects the pion default. With an empty track set it adds
// recvonly transceivers so the offer or answer still carries valid
// audio/video m-lines.
func NewSession(api *webrtc.API, cfg webrtc.Configuration, role domain.Role, remotePeer domain.PeerID, localTracks []webrtc.TrackLocal) (*Session, error) {
	var pc *webrtc.PeerConnection
	var err error
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &Session{
		pc:         pc,
		role:       role,
		remotePeer: remotePeer,
		lastState:  webrtc.ICEConnectionStateNew,
	}

	for _, track := range localTracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}
	if len(localTracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add recvonly transceiver: %w", err)
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // gathering finished, nothing to emit downstream
		}
		s.mu.Lock()
		fn := s.onCandidate
		closed := s.closed
		s.mu.Unlock()
		if fn != nil && !closed {
			fn(cand.ToJSON())
		}
	})

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.mu.Lock()
		if s.closed || st == s.lastState {
			s.mu.Unlock()
			return
		}
		s.lastState = st
		fn := s.onState
		s.mu.Unlock()
		log.Info().Str("module", "rtc").Str("peer", string(remotePeer)).Str("ice_state", st.String()).Msg("ICE state")
		if fn != nil {
			fn(st)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(remotePeer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		s.mu.Lock()
		fn := s.onTrack
		closed := s.closed
		s.mu.Unlock()
		if fn != nil && !closed {
			fn(track)
		}
	})

	return s, nil
}

func (s *Session) Role() domain.Role { return s.role }

func (s *Session) RemotePeer() domain.PeerID { return s.remotePeer }

// Initiate generates the local offer and applies it as local
// description. On error the session is unusable and must be closed.
func (s *Session) Initiate() (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrSessionClosed
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create offer: %v", core.ErrNegotiation, err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set local offer: %v", core.ErrNegotiation, err)
	}
	return s.pc.LocalDescription(), nil
}

// Respond applies the inbound offer, generates the answer and applies
// it as local description.
func (s *Session) Respond(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrSessionClosed
	}

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRemoteDescription, err)
	}
	s.remoteSet = true
	s.flushPendingLocked()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create answer: %v", core.ErrNegotiation, err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: set local answer: %v", core.ErrNegotiation, err)
	}
	return s.pc.LocalDescription(), nil
}

// ApplyAnswer applies an answer on an initiator session. The remote
// description is set at most once; a second answer is rejected, never
// silently overwritten.
func (s *Session) ApplyAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSessionClosed
	}
	if s.remoteSet {
		return core.ErrStaleAnswer
	}
	if s.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("%w: no pending local offer", core.ErrInvalidRemoteDescription)
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRemoteDescription, err)
	}
	s.remoteSet = true
	s.flushPendingLocked()
	return nil
}

// AddRemoteCandidate feeds one trickled candidate. Candidates arriving
// before the remote description are buffered, not dropped; they are
// applied in arrival order right after the description is set.
func (s *Session) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSessionClosed
	}
	if !s.remoteSet {
		s.pendingCands = append(s.pendingCands, cand)
		log.Debug().Str("module", "rtc").Str("peer", string(s.remotePeer)).Int("buffered", len(s.pendingCands)).Msg("candidate buffered")
		return nil
	}
	if err := s.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// flushPendingLocked applies buffered candidates exactly once. A single
// bad candidate must not abort the call, so failures are only logged.
func (s *Session) flushPendingLocked() {
	for _, cand := range s.pendingCands {
		if err := s.pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(s.remotePeer)).Msg("buffered candidate rejected")
		}
	}
	s.pendingCands = nil
}

func (s *Session) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

func (s *Session) OnStateChange(fn func(webrtc.ICEConnectionState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Session) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	s.mu.Lock()
	s.onTrack = fn
	s.mu.Unlock()
}

// Close releases the underlying transport. Idempotent and irreversible;
// late pion callbacks on a closed session are ignored, not errors.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pendingCands = nil
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(s.remotePeer)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("peer", string(s.remotePeer)).Msg("closed")
	}
}
