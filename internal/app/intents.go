package app

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

// Start places an outbound call. Negotiation and media failures do not
// come back as errors: they surface as a terminal status, per the
// propagation policy. Only precondition violations return an error.
func (c *Controller) Start(ctx context.Context, target domain.PeerID) error {
	if c.sig.LocalID() == "" {
		return core.ErrNotRegistered
	}

	c.mu.Lock()
	if c.status.Active() {
		c.mu.Unlock()
		return core.ErrCallInProgress
	}

	if err := c.ensureMediaLocked(ctx); err != nil {
		log.Error().Err(err).Str("module", "app").Msg("media acquisition failed")
		c.teardownLocked(domain.StatusMediaAccessDenied)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}

	c.role = domain.RoleInitiator
	c.remotePeer = target
	c.status = domain.StatusConnecting
	c.queueStatusLocked(c.status)

	sess, err := c.connect(domain.RoleInitiator, target, c.tracks)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("peer", string(target)).Msg("transport create failed")
		c.teardownLocked(domain.StatusCallFailed)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}
	c.session = sess
	c.wireSessionLocked(sess)

	offer, err := sess.Initiate()
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("peer", string(target)).Msg("offer failed")
		c.teardownLocked(domain.StatusCallFailed)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}

	err = c.sig.Send(core.SignalMessage{Type: core.MsgCallOffer, TargetID: target, Offer: offer})
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("peer", string(target)).Msg("offer send failed")
		c.teardownLocked(domain.StatusCallFailed)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}

	c.status = domain.StatusWaitingForAnswer
	c.queueStatusLocked(c.status)
	c.mu.Unlock()

	c.flushStatus()
	log.Info().Str("module", "app").Str("peer", string(target)).Msg("call started")
	return nil
}

// Answer accepts the pending incoming call.
func (c *Controller) Answer(ctx context.Context) error {
	c.mu.Lock()
	if c.status != domain.StatusIncomingCall || c.pending == nil {
		c.mu.Unlock()
		return core.ErrNoPendingCall
	}
	po := *c.pending

	if err := c.ensureMediaLocked(ctx); err != nil {
		log.Error().Err(err).Str("module", "app").Msg("media acquisition failed")
		c.teardownLocked(domain.StatusMediaAccessDenied)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}

	sess, err := c.connect(domain.RoleResponder, po.caller, c.tracks)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("peer", string(po.caller)).Msg("transport create failed")
		c.teardownLocked(domain.StatusCallFailed)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}
	c.session = sess
	c.wireSessionLocked(sess)

	answer, err := sess.Respond(po.offer)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("peer", string(po.caller)).Msg("answer failed")
		c.teardownLocked(domain.StatusCallFailed)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}

	err = c.sig.Send(core.SignalMessage{Type: core.MsgCallAnswer, TargetID: po.caller, Answer: answer})
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("peer", string(po.caller)).Msg("answer send failed")
		c.teardownLocked(domain.StatusCallFailed)
		c.mu.Unlock()
		c.flushStatus()
		return nil
	}

	c.pending = nil
	c.status = domain.StatusConnecting
	c.queueStatusLocked(c.status)
	c.mu.Unlock()

	c.flushStatus()
	log.Info().Str("module", "app").Str("peer", string(po.caller)).Msg("call answered")
	return nil
}

// Reject declines the pending incoming call and returns to Idle. The
// caller is told with a call-end so it does not wait out the attempt.
func (c *Controller) Reject() error {
	c.mu.Lock()
	if c.status != domain.StatusIncomingCall || c.pending == nil {
		c.mu.Unlock()
		return core.ErrNoPendingCall
	}
	caller := c.pending.caller
	c.pending = nil
	c.remotePeer = ""
	c.status = domain.StatusIdle
	c.queueStatusLocked(c.status)
	c.mu.Unlock()

	if err := c.sig.Send(core.SignalMessage{Type: core.MsgCallEnd, TargetID: caller}); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("reject notify failed")
	}
	c.flushStatus()
	log.Info().Str("module", "app").Str("peer", string(caller)).Msg("call rejected")
	return nil
}

// End hangs up the active call, whatever phase it is in. Issued while
// negotiation is in flight it closes the session immediately; callbacks
// resolving later against the closed session are discarded.
func (c *Controller) End() error {
	c.mu.Lock()
	if !c.status.Active() {
		c.mu.Unlock()
		return errors.New("no active call")
	}
	peer := c.remotePeer
	c.teardownLocked(domain.StatusCallEnded)
	c.mu.Unlock()

	if peer != "" {
		if err := c.sig.Send(core.SignalMessage{Type: core.MsgCallEnd, TargetID: peer}); err != nil {
			log.Warn().Err(err).Str("module", "app").Msg("call-end send failed")
		}
	}
	c.flushStatus()
	log.Info().Str("module", "app").Str("peer", string(peer)).Msg("call ended")
	return nil
}

// SetMuted toggles a local track kind without renegotiation.
func (c *Controller) SetMuted(kind webrtc.RTPCodecType, muted bool) {
	c.media.SetTrackEnabled(kind, !muted)
}

// ReleaseMedia stops local capture; the next call acquires it afresh.
func (c *Controller) ReleaseMedia() {
	c.mu.Lock()
	c.tracks = nil
	c.hasMedia = false
	c.mu.Unlock()
	c.media.Release()
}
