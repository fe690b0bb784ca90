// Package domain contains entity without logic, just meta-data.
package domain

// PeerID is the relay-assigned identifier of an endpoint. Opaque,
// stable for the lifetime of one signaling connection.
type PeerID string

// Role says which side of the offer/answer exchange this endpoint took.
// Fixed for the lifetime of a call session.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// CallStatus is the caller-visible state of the single call session.
// Mutated only by the app controller.
type CallStatus int

const (
	StatusIdle CallStatus = iota
	StatusConnecting
	StatusWaitingForAnswer
	StatusIncomingCall
	StatusConnected
	StatusCallEnded
	StatusCallFailed
	StatusMediaAccessDenied
)

func (s CallStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusWaitingForAnswer:
		return "waiting_for_answer"
	case StatusIncomingCall:
		return "incoming_call"
	case StatusConnected:
		return "connected"
	case StatusCallEnded:
		return "call_ended"
	case StatusCallFailed:
		return "call_failed"
	case StatusMediaAccessDenied:
		return "media_access_denied"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends a call attempt. A terminal
// status accepts fresh start intents and inbound offers the same way
// Idle does; it is never silently reset back to Idle.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCallEnded, StatusCallFailed, StatusMediaAccessDenied:
		return true
	default:
		return false
	}
}

// Active reports whether a call attempt is in flight or established.
func (s CallStatus) Active() bool {
	switch s {
	case StatusConnecting, StatusWaitingForAnswer, StatusIncomingCall, StatusConnected:
		return true
	default:
		return false
	}
}
