// Package app owns the call state machine. It mediates between
// UI-facing intents and the transport session, and it is the only
// writer of the caller-visible status.
package app

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

type pendingOffer struct {
	caller domain.PeerID
	offer  webrtc.SessionDescription
}

// Controller tracks one call attempt at a time. Every transition runs
// under one mutex: UI intents, signaling handlers and transport
// callbacks all serialize through it, so no negotiation step can
// interleave with another transition touching the same session.
type Controller struct {
	sig     core.SignalChannel
	media   core.MediaSource
	connect core.ConnectionFactory

	mu         sync.Mutex
	status     domain.CallStatus
	role       domain.Role
	remotePeer domain.PeerID
	// session is an owned slot: at most one live connection, replaced
	// only after the previous one was closed.
	session  core.MediaConnection
	pending  *pendingOffer
	tracks   []webrtc.TrackLocal
	hasMedia bool

	subMu      sync.RWMutex
	statusSubs []func(domain.CallStatus)
	trackSubs  []func(*webrtc.TrackRemote)

	// pubQueue is appended under mu at the point a transition commits;
	// pubMu admits one deliverer at a time, so subscribers observe
	// statuses exactly in commit order.
	pubMu    sync.Mutex
	pubQueue []domain.CallStatus
}

// New wires the controller to the signaling channel. Handler
// registration happens here, before the channel connects.
func New(sig core.SignalChannel, media core.MediaSource, connect core.ConnectionFactory) *Controller {
	c := &Controller{
		sig:     sig,
		media:   media,
		connect: connect,
		status:  domain.StatusIdle,
	}
	sig.On(core.MsgCallOffer, c.handleOffer)
	sig.On(core.MsgCallAnswer, c.handleAnswer)
	sig.On(core.MsgIceCandidate, c.handleCandidate)
	sig.On(core.MsgCallEnd, c.handleEnd)
	return c
}

func (c *Controller) Status() domain.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) RemotePeer() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remotePeer
}

// OnStatus subscribes to status changes. Callbacks run outside the
// controller mutex, in transition order.
func (c *Controller) OnStatus(fn func(domain.CallStatus)) {
	c.subMu.Lock()
	c.statusSubs = append(c.statusSubs, fn)
	c.subMu.Unlock()
}

// OnRemoteTrack subscribes to remote media tracks of the active call.
func (c *Controller) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.subMu.Lock()
	c.trackSubs = append(c.trackSubs, fn)
	c.subMu.Unlock()
}

// queueStatusLocked records a committed transition for delivery. Must
// be called with mu held, at the point the status is written, so the
// queue order is the commit order.
func (c *Controller) queueStatusLocked(st domain.CallStatus) {
	c.pubQueue = append(c.pubQueue, st)
}

// flushStatus delivers queued transitions to subscribers, outside mu.
// A transition that commits while another delivery is in flight is
// drained by whichever flusher holds pubMu, never reordered past it:
// the terminal status of a teardown is always the last thing observers
// see for that call.
func (c *Controller) flushStatus() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for {
		c.mu.Lock()
		queue := c.pubQueue
		c.pubQueue = nil
		c.mu.Unlock()
		if len(queue) == 0 {
			return
		}

		c.subMu.RLock()
		subs := make([]func(domain.CallStatus), len(c.statusSubs))
		copy(subs, c.statusSubs)
		c.subMu.RUnlock()
		for _, st := range queue {
			log.Info().Str("module", "app").Str("status", st.String()).Msg("status")
			for _, fn := range subs {
				fn(st)
			}
		}
	}
}

func (c *Controller) publishTrack(track *webrtc.TrackRemote) {
	c.subMu.RLock()
	subs := make([]func(*webrtc.TrackRemote), len(c.trackSubs))
	copy(subs, c.trackSubs)
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(track)
	}
}

// ensureMediaLocked acquires local tracks once and reuses them for
// every later session until the source is released.
func (c *Controller) ensureMediaLocked(ctx context.Context) error {
	if c.hasMedia {
		return nil
	}
	tracks, err := c.media.Acquire(ctx)
	if err != nil {
		return err
	}
	c.tracks = tracks
	c.hasMedia = true
	return nil
}

// teardownLocked releases resources first, then applies exactly one
// final caller-visible status. No intermediate status is ever written
// here, so a terminal value cannot be overwritten by housekeeping.
func (c *Controller) teardownLocked(final domain.CallStatus) {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.pending = nil
	c.remotePeer = ""
	c.status = final
	c.queueStatusLocked(final)
}

// wireSessionLocked hooks transport callbacks to the controller. Each
// closure captures sess and re-checks it against the owned slot, so a
// late callback from a closed or replaced session is discarded.
func (c *Controller) wireSessionLocked(sess core.MediaConnection) {
	sess.OnLocalCandidate(func(cand webrtc.ICECandidateInit) {
		c.mu.Lock()
		current := c.session == sess
		peer := c.remotePeer
		c.mu.Unlock()
		if !current {
			return
		}
		err := c.sig.Send(core.SignalMessage{
			Type:      core.MsgIceCandidate,
			TargetID:  peer,
			Candidate: &cand,
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "app").Msg("candidate send failed")
		}
	})

	sess.OnStateChange(func(st webrtc.ICEConnectionState) {
		c.transportState(sess, st)
	})

	sess.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		c.mu.Lock()
		current := c.session == sess
		c.mu.Unlock()
		if current {
			c.publishTrack(track)
		}
	})
}

// transportState maps low-level transport transitions onto the
// caller-visible status. Only connected and failed are surfaced;
// disconnected may still recover on its own.
func (c *Controller) transportState(sess core.MediaConnection, st webrtc.ICEConnectionState) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	switch st {
	case webrtc.ICEConnectionStateConnected:
		if c.status != domain.StatusConnected {
			c.status = domain.StatusConnected
			c.queueStatusLocked(c.status)
		}
	case webrtc.ICEConnectionStateFailed:
		c.teardownLocked(domain.StatusCallEnded)
	case webrtc.ICEConnectionStateDisconnected:
		log.Warn().Str("module", "app").Msg("transport disconnected, may recover")
	}
	c.mu.Unlock()

	c.flushStatus()
}
