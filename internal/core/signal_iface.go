package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/okutko/duplex/internal/domain"
)

// MessageType discriminates signaling envelopes on the wire.
type MessageType string

const (
	MsgIdentity     MessageType = "identity"
	MsgCallOffer    MessageType = "call-offer"
	MsgCallAnswer   MessageType = "call-answer"
	MsgIceCandidate MessageType = "ice-candidate"
	MsgCallEnd      MessageType = "call-end"
	MsgError        MessageType = "error"
)

// SignalMessage is the single JSON envelope exchanged with the relay.
// Offer/Answer/Candidate payloads are opaque negotiation blobs produced
// and consumed only by the transport session; neither the relay nor the
// controller inspects their contents.
type SignalMessage struct {
	Type MessageType `json:"type"`

	// ID carries the assigned peer id in identity messages.
	ID domain.PeerID `json:"id,omitempty"`
	// TargetID addresses an outbound envelope; stripped by the relay.
	TargetID domain.PeerID `json:"targetId,omitempty"`
	// CallerID is stamped by the relay on inbound call-offer envelopes.
	CallerID domain.PeerID `json:"callerId,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	Error string `json:"error,omitempty"`
}

// SignalChannel is the message bus to the relay. Delivery is best-effort
// and ordered per sender-recipient pair. Handlers run on one logical
// thread of control: the channel invokes them sequentially, never
// concurrently with each other.
type SignalChannel interface {
	// LocalID returns the relay-assigned id, or "" before registration.
	LocalID() domain.PeerID
	Send(msg SignalMessage) error
	// On registers exactly one handler per message type. Registering a
	// second handler for the same type is a programmer error.
	On(t MessageType, handler func(SignalMessage))
	Close()
}
