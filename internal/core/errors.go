package core

import "errors"

var (
	// ErrAccessDenied means local media capture was refused. Terminal for
	// the call attempt; no transport session is created.
	ErrAccessDenied = errors.New("media access denied")

	// ErrNegotiation covers offer/answer construction or local-description
	// application failures. The session is unusable and must be closed.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrInvalidRemoteDescription means a remote description was malformed
	// or arrived out of order for the session's state.
	ErrInvalidRemoteDescription = errors.New("invalid remote description")

	// ErrStaleAnswer means an answer arrived for a session whose remote
	// description is already set. Ignored, logged, non-fatal.
	ErrStaleAnswer = errors.New("stale answer")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrCallInProgress rejects a start intent while a call is active.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNoPendingCall rejects answer/reject without an incoming offer.
	ErrNoPendingCall = errors.New("no pending incoming call")

	// ErrNotRegistered rejects outbound calls before the relay has
	// assigned a local peer id.
	ErrNotRegistered = errors.New("relay has not assigned an identity yet")
)
