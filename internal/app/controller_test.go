package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

type fakeSignal struct {
	mu       sync.Mutex
	localID  domain.PeerID
	handlers map[core.MessageType]func(core.SignalMessage)
	sent     []core.SignalMessage
	sendErr  error
}

func newFakeSignal(id domain.PeerID) *fakeSignal {
	return &fakeSignal{
		localID:  id,
		handlers: make(map[core.MessageType]func(core.SignalMessage)),
	}
}

func (f *fakeSignal) LocalID() domain.PeerID { return f.localID }

func (f *fakeSignal) Send(msg core.SignalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignal) On(t core.MessageType, handler func(core.SignalMessage)) {
	f.handlers[t] = handler
}

func (f *fakeSignal) Close() {}

// deliver simulates an inbound relay message.
func (f *fakeSignal) deliver(msg core.SignalMessage) {
	f.handlers[msg.Type](msg)
}

func (f *fakeSignal) sentOfType(t core.MessageType) []core.SignalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.SignalMessage
	for _, m := range f.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeConn struct {
	mu         sync.Mutex
	role       domain.Role
	remotePeer domain.PeerID
	closed     int
	candidates []webrtc.ICECandidateInit
	answers    []webrtc.SessionDescription

	initiateErr error
	respondErr  error
	applyErr    error

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.ICEConnectionState)
	onTrack     func(*webrtc.TrackRemote)
}

func (f *fakeConn) Initiate() (*webrtc.SessionDescription, error) {
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeConn) Respond(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if f.respondErr != nil {
		return nil, f.respondErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.answers = append(f.answers, answer)
	return nil
}

func (f *fakeConn) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeConn) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) { f.onCandidate = fn }
func (f *fakeConn) OnStateChange(fn func(webrtc.ICEConnectionState))  { f.onState = fn }
func (f *fakeConn) OnRemoteTrack(fn func(*webrtc.TrackRemote))        { f.onTrack = fn }

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	released   int
	enabled    map[webrtc.RTPCodecType]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{enabled: make(map[webrtc.RTPCodecType]bool)}
}

func (f *fakeSource) Acquire(context.Context) ([]webrtc.TrackLocal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return nil, nil
}

func (f *fakeSource) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	f.mu.Lock()
	f.enabled[kind] = enabled
	f.mu.Unlock()
}

func (f *fakeSource) Release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func (f *fakeSource) API() (*webrtc.API, error) { return nil, nil }

type harness struct {
	sig     *fakeSignal
	src     *fakeSource
	ctrl    *Controller
	conns   []*fakeConn
	factErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sig: newFakeSignal("local-1"), src: newFakeSource()}
	factory := func(role domain.Role, remotePeer domain.PeerID, _ []webrtc.TrackLocal) (core.MediaConnection, error) {
		if h.factErr != nil {
			return nil, h.factErr
		}
		conn := &fakeConn{role: role, remotePeer: remotePeer}
		h.conns = append(h.conns, conn)
		return conn, nil
	}
	h.ctrl = New(h.sig, h.src, factory)
	return h
}

func (h *harness) lastConn(t *testing.T) *fakeConn {
	t.Helper()
	require.NotEmpty(t, h.conns, "no connection was created")
	return h.conns[len(h.conns)-1]
}

func remoteOffer(caller domain.PeerID) core.SignalMessage {
	return core.SignalMessage{
		Type:     core.MsgCallOffer,
		CallerID: caller,
		Offer:    &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"},
	}
}

func remoteAnswer() core.SignalMessage {
	return core.SignalMessage{
		Type:   core.MsgCallAnswer,
		Answer: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	}
}

func TestStartHappyPath(t *testing.T) {
	h := newHarness(t)
	var statuses []domain.CallStatus
	h.ctrl.OnStatus(func(st domain.CallStatus) { statuses = append(statuses, st) })

	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	assert.Equal(t, domain.StatusWaitingForAnswer, h.ctrl.Status())
	assert.Equal(t, domain.PeerID("peer-2"), h.ctrl.RemotePeer())

	offers := h.sig.sentOfType(core.MsgCallOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.PeerID("peer-2"), offers[0].TargetID)
	require.NotNil(t, offers[0].Offer)

	conn := h.lastConn(t)
	assert.Equal(t, domain.RoleInitiator, conn.role)

	h.sig.deliver(remoteAnswer())
	require.Len(t, conn.answers, 1)
	assert.Equal(t, domain.StatusWaitingForAnswer, h.ctrl.Status())

	conn.onState(webrtc.ICEConnectionStateConnected)
	assert.Equal(t, domain.StatusConnected, h.ctrl.Status())
	assert.Equal(t, []domain.CallStatus{
		domain.StatusConnecting,
		domain.StatusWaitingForAnswer,
		domain.StatusConnected,
	}, statuses)
}

func TestStartWhileActive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))

	err := h.ctrl.Start(context.Background(), "peer-3")
	assert.ErrorIs(t, err, core.ErrCallInProgress)
	assert.Len(t, h.conns, 1)
}

func TestStartBeforeIdentity(t *testing.T) {
	h := newHarness(t)
	h.sig.localID = ""

	err := h.ctrl.Start(context.Background(), "peer-2")
	assert.ErrorIs(t, err, core.ErrNotRegistered)
	assert.Equal(t, domain.StatusIdle, h.ctrl.Status())
}

func TestStartMediaDenied(t *testing.T) {
	h := newHarness(t)
	h.src.acquireErr = core.ErrAccessDenied

	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	assert.Equal(t, domain.StatusMediaAccessDenied, h.ctrl.Status())
	assert.Empty(t, h.conns)
	assert.Empty(t, h.sig.sentOfType(core.MsgCallOffer))
}

func TestStartAfterTerminalStatus(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	require.NoError(t, h.ctrl.End())
	require.Equal(t, domain.StatusCallEnded, h.ctrl.Status())

	// Terminal statuses are rest states: a fresh intent is accepted.
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-3"))
	assert.Equal(t, domain.StatusWaitingForAnswer, h.ctrl.Status())
	assert.Len(t, h.conns, 2)
}

func TestIncomingAnswerFlow(t *testing.T) {
	h := newHarness(t)
	h.sig.deliver(remoteOffer("caller-9"))
	assert.Equal(t, domain.StatusIncomingCall, h.ctrl.Status())
	assert.Equal(t, domain.PeerID("caller-9"), h.ctrl.RemotePeer())

	require.NoError(t, h.ctrl.Answer(context.Background()))
	assert.Equal(t, domain.StatusConnecting, h.ctrl.Status())

	conn := h.lastConn(t)
	assert.Equal(t, domain.RoleResponder, conn.role)
	assert.Equal(t, domain.PeerID("caller-9"), conn.remotePeer)

	answers := h.sig.sentOfType(core.MsgCallAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.PeerID("caller-9"), answers[0].TargetID)
	require.NotNil(t, answers[0].Answer)

	conn.onState(webrtc.ICEConnectionStateConnected)
	assert.Equal(t, domain.StatusConnected, h.ctrl.Status())
}

func TestAnswerWithoutPendingCall(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.Answer(context.Background()), core.ErrNoPendingCall)
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	h.sig.deliver(remoteOffer("caller-9"))

	require.NoError(t, h.ctrl.Reject())
	assert.Equal(t, domain.StatusIdle, h.ctrl.Status())
	assert.Empty(t, h.conns)

	ends := h.sig.sentOfType(core.MsgCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, domain.PeerID("caller-9"), ends[0].TargetID)
}

func TestEndDuringNegotiation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)

	require.NoError(t, h.ctrl.End())
	assert.Equal(t, domain.StatusCallEnded, h.ctrl.Status())
	assert.Equal(t, 1, conn.closeCount())

	ends := h.sig.sentOfType(core.MsgCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, domain.PeerID("peer-2"), ends[0].TargetID)

	// A late connected transition on the closed session must not
	// resurrect the call.
	conn.onState(webrtc.ICEConnectionStateConnected)
	assert.Equal(t, domain.StatusCallEnded, h.ctrl.Status())
}

func TestRemoteEnd(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)

	h.sig.deliver(core.SignalMessage{Type: core.MsgCallEnd})
	assert.Equal(t, domain.StatusCallEnded, h.ctrl.Status())
	assert.Equal(t, 1, conn.closeCount())
	assert.Equal(t, domain.PeerID(""), h.ctrl.RemotePeer())
}

func TestRemoteEndWhileIdle(t *testing.T) {
	h := newHarness(t)
	var statuses []domain.CallStatus
	h.ctrl.OnStatus(func(st domain.CallStatus) { statuses = append(statuses, st) })

	h.sig.deliver(core.SignalMessage{Type: core.MsgCallEnd})
	assert.Equal(t, domain.StatusIdle, h.ctrl.Status())
	assert.Empty(t, statuses)
}

func TestStaleAnswerIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)
	conn.applyErr = core.ErrStaleAnswer

	h.sig.deliver(remoteAnswer())
	assert.Equal(t, domain.StatusWaitingForAnswer, h.ctrl.Status())
	assert.Zero(t, conn.closeCount())
}

func TestBadAnswerFailsCall(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)
	conn.applyErr = core.ErrInvalidRemoteDescription

	h.sig.deliver(remoteAnswer())
	assert.Equal(t, domain.StatusCallFailed, h.ctrl.Status())
	assert.Equal(t, 1, conn.closeCount())
}

func TestBusyDecline(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))

	h.sig.deliver(remoteOffer("caller-9"))
	assert.Equal(t, domain.StatusWaitingForAnswer, h.ctrl.Status())
	assert.Equal(t, domain.PeerID("peer-2"), h.ctrl.RemotePeer())

	ends := h.sig.sentOfType(core.MsgCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, domain.PeerID("caller-9"), ends[0].TargetID)
}

func TestCandidateForwarding(t *testing.T) {
	h := newHarness(t)

	// Without a session the candidate has no home; dropping it must
	// not panic or change state.
	h.sig.deliver(core.SignalMessage{
		Type:      core.MsgIceCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: "orphan"},
	})

	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)

	for _, c := range []string{"cand-1", "cand-2"} {
		h.sig.deliver(core.SignalMessage{
			Type:      core.MsgIceCandidate,
			Candidate: &webrtc.ICECandidateInit{Candidate: c},
		})
	}
	require.Len(t, conn.candidates, 2)
	assert.Equal(t, "cand-1", conn.candidates[0].Candidate)
	assert.Equal(t, "cand-2", conn.candidates[1].Candidate)
}

func TestLocalCandidatesSent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)

	conn.onCandidate(webrtc.ICECandidateInit{Candidate: "local-cand"})

	cands := h.sig.sentOfType(core.MsgIceCandidate)
	require.Len(t, cands, 1)
	assert.Equal(t, domain.PeerID("peer-2"), cands[0].TargetID)
	assert.Equal(t, "local-cand", cands[0].Candidate.Candidate)
}

func TestTransportFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	var statuses []domain.CallStatus
	h.ctrl.OnStatus(func(st domain.CallStatus) { statuses = append(statuses, st) })

	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)

	conn.onState(webrtc.ICEConnectionStateFailed)
	assert.Equal(t, domain.StatusCallEnded, h.ctrl.Status())
	assert.Equal(t, 1, conn.closeCount())

	// The failed transition already tore down; a repeated callback from
	// the dead session must be discarded.
	conn.onState(webrtc.ICEConnectionStateFailed)
	assert.Equal(t, 1, conn.closeCount())
}

func TestTransportCreateFailure(t *testing.T) {
	h := newHarness(t)
	h.factErr = errors.New("no transport")

	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	assert.Equal(t, domain.StatusCallFailed, h.ctrl.Status())
}

func TestStatusOrderUnderConcurrentTeardown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	conn := h.lastConn(t)

	var mu sync.Mutex
	var got []domain.CallStatus
	inConnected := make(chan struct{})
	release := make(chan struct{})
	h.ctrl.OnStatus(func(st domain.CallStatus) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
		if st == domain.StatusConnected {
			close(inConnected)
			<-release
		}
	})

	go conn.onState(webrtc.ICEConnectionStateConnected)
	<-inConnected

	// Hang up while the Connected delivery is still in flight. The
	// terminal status must queue behind it, never overtake it.
	ended := make(chan error, 1)
	go func() { ended <- h.ctrl.End() }()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Equal(t, []domain.CallStatus{domain.StatusConnected}, got,
		"no status may be delivered while an earlier delivery is in flight")
	mu.Unlock()

	close(release)
	require.NoError(t, <-ended)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.CallStatus{domain.StatusConnected, domain.StatusCallEnded}, got,
		"terminal status must be the last observer-visible write")
}

func TestMuteTogglesSource(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SetMuted(webrtc.RTPCodecTypeAudio, true)
	assert.False(t, h.src.enabled[webrtc.RTPCodecTypeAudio])

	h.ctrl.SetMuted(webrtc.RTPCodecTypeAudio, false)
	assert.True(t, h.src.enabled[webrtc.RTPCodecTypeAudio])
}

func TestMediaAcquiredOncePerRelease(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-2"))
	require.NoError(t, h.ctrl.End())
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-3"))
	assert.Equal(t, 1, h.src.acquired)

	h.ctrl.ReleaseMedia()
	assert.Equal(t, 1, h.src.released)

	require.NoError(t, h.ctrl.End())
	require.NoError(t, h.ctrl.Start(context.Background(), "peer-4"))
	assert.Equal(t, 2, h.src.acquired)
}
