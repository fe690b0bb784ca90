package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

// handleOffer stores an inbound offer until the user answers or
// rejects. A second caller during an active call is declined outright.
func (c *Controller) handleOffer(msg core.SignalMessage) {
	if msg.Offer == nil || msg.CallerID == "" {
		log.Warn().Str("module", "app").Msg("malformed call-offer dropped")
		return
	}

	c.mu.Lock()
	if c.status.Active() {
		c.mu.Unlock()
		log.Info().Str("module", "app").Str("caller", string(msg.CallerID)).Msg("busy, declining offer")
		if err := c.sig.Send(core.SignalMessage{Type: core.MsgCallEnd, TargetID: msg.CallerID}); err != nil {
			log.Warn().Err(err).Str("module", "app").Msg("busy decline failed")
		}
		return
	}
	c.pending = &pendingOffer{caller: msg.CallerID, offer: *msg.Offer}
	c.remotePeer = msg.CallerID
	c.role = domain.RoleResponder
	c.status = domain.StatusIncomingCall
	c.queueStatusLocked(c.status)
	c.mu.Unlock()

	c.flushStatus()
	log.Info().Str("module", "app").Str("caller", string(msg.CallerID)).Msg("incoming call")
}

// handleAnswer applies the answer to the outstanding offer. The status
// stays WaitingForAnswer until the transport reports connected.
func (c *Controller) handleAnswer(msg core.SignalMessage) {
	if msg.Answer == nil {
		log.Warn().Str("module", "app").Msg("malformed call-answer dropped")
		return
	}

	c.mu.Lock()
	if c.status != domain.StatusWaitingForAnswer || c.session == nil {
		st := c.status
		c.mu.Unlock()
		log.Warn().Str("module", "app").Str("status", st.String()).Msg("unexpected call-answer dropped")
		return
	}
	if err := c.session.ApplyAnswer(*msg.Answer); err != nil {
		if errors.Is(err, core.ErrStaleAnswer) {
			// Duplicate answer: the remote description is already set
			// and must not be overwritten. Non-fatal.
			c.mu.Unlock()
			log.Warn().Err(err).Str("module", "app").Msg("stale answer ignored")
			return
		}
		log.Error().Err(err).Str("module", "app").Msg("apply answer failed")
		c.teardownLocked(domain.StatusCallFailed)
	}
	c.mu.Unlock()

	c.flushStatus()
}

// handleCandidate forwards a trickled candidate to the active session.
// Without a session the candidate cannot belong anywhere and is dropped.
func (c *Controller) handleCandidate(msg core.SignalMessage) {
	if msg.Candidate == nil {
		return
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		log.Debug().Str("module", "app").Msg("candidate without session dropped")
		return
	}
	if err := sess.AddRemoteCandidate(*msg.Candidate); err != nil {
		// A single bad candidate must not abort the call.
		log.Warn().Err(err).Str("module", "app").Msg("remote candidate rejected")
	}
}

// handleEnd drives the same teardown path as a local End: a two-party
// protocol has to be symmetric about who hangs up first.
func (c *Controller) handleEnd(core.SignalMessage) {
	c.mu.Lock()
	active := c.status.Active()
	if active {
		c.teardownLocked(domain.StatusCallEnded)
	}
	c.mu.Unlock()

	c.flushStatus()
	if active {
		log.Info().Str("module", "app").Msg("remote ended the call")
	}
}
