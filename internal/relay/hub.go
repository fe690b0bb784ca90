// Package relay implements the signaling relay: a websocket message
// switch that assigns peer ids and routes negotiation envelopes by
// target. It keeps no call state and never inspects SDP or candidate
// payloads.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[domain.PeerID]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[domain.PeerID]*client)}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("peer", string(c.id)).Msg("peer registered")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("peer", string(c.id)).Msg("peer unregistered")
}

// Peers lists connected peer ids. Diagnostic only.
func (h *Hub) Peers() []domain.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

func (h *Hub) lookup(id domain.PeerID) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// route forwards one envelope from sender to its target. Each client
// writes through its own FIFO queue, so messages between one sender
// and one recipient arrive in the order they were sent.
func (h *Hub) route(sender *client, data []byte) {
	var msg core.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("peer", string(sender.id)).Msg("bad envelope")
		sender.sendError("bad_payload")
		return
	}

	switch msg.Type {
	case core.MsgCallOffer, core.MsgCallAnswer, core.MsgIceCandidate, core.MsgCallEnd:
	default:
		log.Warn().Str("module", "relay").Str("type", string(msg.Type)).Msg("unknown envelope type")
		sender.sendError("unknown_type")
		return
	}

	target, ok := h.lookup(msg.TargetID)
	if !ok {
		log.Warn().Str("module", "relay").Str("peer", string(sender.id)).Str("target", string(msg.TargetID)).Msg("unknown target")
		sender.sendError("unknown_target")
		return
	}

	// Inbound shape: the recipient never sees its own id, and only an
	// offer carries the sender id so the callee learns who is calling.
	msg.TargetID = ""
	if msg.Type == core.MsgCallOffer {
		msg.CallerID = sender.id
	}

	out, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal forward")
		return
	}
	if err := target.trySend(out); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("target", string(target.id)).Msg("forward dropped")
	}
}
