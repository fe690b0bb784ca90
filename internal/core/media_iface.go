package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/okutko/duplex/internal/domain"
)

// MediaConnection is one negotiation/media-transport instance, 1:1 with
// a call session while active. Created by the factory, never reused
// after Close.
type MediaConnection interface {
	// Initiate generates a local offer and sets it as local description.
	Initiate() (*webrtc.SessionDescription, error)
	// Respond applies offer as remote description, generates an answer
	// and sets it as local description.
	Respond(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer applies an answer as remote description on an
	// initiator connection. Fails with ErrInvalidRemoteDescription when
	// no local offer is pending and with ErrStaleAnswer when the remote
	// description is already set.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddRemoteCandidate feeds one trickled candidate. Candidates that
	// arrive before the remote description is set are buffered and
	// flushed, in arrival order, once it is applied.
	AddRemoteCandidate(cand webrtc.ICECandidateInit) error

	// OnLocalCandidate sets a callback invoked once per newly gathered
	// local candidate.
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	// OnStateChange sets a callback invoked on every distinct ICE
	// connection state transition, never with a repeated state and
	// never after Close.
	OnStateChange(func(webrtc.ICEConnectionState))
	// OnRemoteTrack sets a callback for newly arrived remote tracks.
	OnRemoteTrack(func(*webrtc.TrackRemote))

	// Close releases the underlying transport. Idempotent. Local tracks
	// are detached, not stopped; they belong to the media source.
	Close()
}

// ConnectionFactory builds the transport for one call attempt. The app
// controller owns the returned connection exclusively.
type ConnectionFactory func(role domain.Role, remotePeer domain.PeerID, tracks []webrtc.TrackLocal) (MediaConnection, error)

// MediaSource supplies local tracks and supports mute/unmute without
// renegotiation. Acquire is called at most once per process lifetime
// unless Release was called; the same track set is handed to every
// connection created while it remains valid.
type MediaSource interface {
	// Acquire returns the local track set, possibly empty for a
	// receive-only endpoint. Capture refusal is ErrAccessDenied.
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)
	// SetTrackEnabled toggles a track kind without renegotiation.
	// Best-effort: a source whose encoder pipeline has no gate may only
	// record the flag, in which case frames keep flowing while muted.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool)
	// Release stops all tracks.
	Release()
	// API returns the webrtc API whose media engine matches this
	// source's codecs. Connections carrying the source's tracks must
	// be built from it.
	API() (*webrtc.API, error)
}
