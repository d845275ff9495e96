package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsync/internal/domain"
	"callsync/internal/media"
	apperrors "callsync/pkg/errors"
)

type fakeTransport struct {
	mu        sync.Mutex
	initiated []domain.InitiateCallRequest
	signals   []domain.SignalingMessage
	accepted  []uuid.UUID
	rejected  map[uuid.UUID]string
	ended     []uuid.UUID
	toggles   []domain.ToggleMediaRequest

	rejectCh chan uuid.UUID
	endCh    chan uuid.UUID
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rejected: make(map[uuid.UUID]string),
		rejectCh: make(chan uuid.UUID, 8),
		endCh:    make(chan uuid.UUID, 8),
	}
}

func (f *fakeTransport) InitiateCall(_ context.Context, req domain.InitiateCallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, req)
	return nil
}

func (f *fakeTransport) SendSignal(_ context.Context, msg domain.SignalingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, msg)
	return nil
}

func (f *fakeTransport) AcceptCall(_ context.Context, callID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, callID)
	return nil
}

func (f *fakeTransport) RejectCall(_ context.Context, callID uuid.UUID, reason string) error {
	f.mu.Lock()
	f.rejected[callID] = reason
	f.mu.Unlock()
	f.rejectCh <- callID
	return nil
}

func (f *fakeTransport) EndCall(_ context.Context, callID uuid.UUID, _ string) error {
	f.mu.Lock()
	f.ended = append(f.ended, callID)
	f.mu.Unlock()
	f.endCh <- callID
	return nil
}

func (f *fakeTransport) ToggleMedia(_ context.Context, req domain.ToggleMediaRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, req)
	return nil
}

func (f *fakeTransport) rejectReason(callID uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejected[callID]
}

type fakeEngine struct {
	mu         sync.Mutex
	acquired   []domain.CallKind
	answers    []string
	candidates []string
	teardowns  int

	acquireGate chan struct{}
	acquireErr  error

	onNegotiated  func()
	onNegErr      func(error)
	onRemoteTrack func()
}

func (e *fakeEngine) AcquireLocalMedia(ctx context.Context, kind domain.CallKind) error {
	if e.acquireGate != nil {
		select {
		case <-e.acquireGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.acquireErr != nil {
		return e.acquireErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acquired = append(e.acquired, kind)
	return nil
}

func (e *fakeEngine) CreateOffer(context.Context) (string, error) { return "offer-sdp", nil }

func (e *fakeEngine) CreateAnswerFor(_ context.Context, _ string) (string, error) {
	return "answer-sdp", nil
}

func (e *fakeEngine) ApplyRemoteAnswer(payload string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers = append(e.answers, payload)
	return nil
}

func (e *fakeEngine) ApplyRemoteCandidate(payload string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, payload)
	return nil
}

func (e *fakeEngine) OnLocalCandidate(func(string)) {}
func (e *fakeEngine) OnRemoteTrackReady(fn func())  { e.onRemoteTrack = fn }
func (e *fakeEngine) OnNegotiated(fn func())        { e.onNegotiated = fn }
func (e *fakeEngine) OnNegotiationError(fn func(error)) {
	e.onNegErr = fn
}

func (e *fakeEngine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardowns++
}

func (e *fakeEngine) teardownCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.teardowns
}

func (e *fakeEngine) appliedCandidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.candidates))
	copy(out, e.candidates)
	return out
}

func peer() domain.Participant {
	return domain.Participant{
		UserID:      uuid.New(),
		DisplayName: "Dana",
		IsOnline:    true,
	}
}

type harness struct {
	machine   *Machine
	transport *fakeTransport
	engines   []*fakeEngine
	mu        sync.Mutex
	updates   <-chan Snapshot
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{transport: newFakeTransport()}
	factory := func() media.Engine {
		e := &fakeEngine{}
		h.mu.Lock()
		h.engines = append(h.engines, e)
		h.mu.Unlock()
		return e
	}
	self := domain.Participant{UserID: uuid.New(), DisplayName: "Self"}
	h.machine = New(cfg, self, h.transport, factory)
	h.updates = h.machine.Updates()
	t.Cleanup(h.machine.Close)
	return h
}

func (h *harness) engine(i int) *fakeEngine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engines[i]
}

// waitStatus drains updates until the session reaches the wanted status
func (h *harness) waitStatus(t *testing.T, want domain.CallStatus) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-h.updates:
			if snap.Status == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s (last: %s)", want, h.machine.Snapshot().Status)
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOutgoingCallLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id, err := h.machine.Initiate(ctx, peer(), domain.CallKindVideo, nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	snap := h.waitStatus(t, domain.CallStatusRinging)
	assert.Equal(t, id, snap.CallID)
	assert.True(t, snap.Outgoing)
	assert.True(t, snap.AudioEnabled)
	assert.True(t, snap.VideoEnabled)

	h.transport.mu.Lock()
	require.Len(t, h.transport.initiated, 1)
	assert.Equal(t, "offer-sdp", h.transport.initiated[0].Offer)
	assert.Equal(t, domain.CallKindVideo, h.transport.initiated[0].Kind)
	h.transport.mu.Unlock()

	h.machine.HandleRemoteAnswer(id, "remote-answer")
	h.waitStatus(t, domain.CallStatusConnecting)

	eng := h.engine(0)
	waitFor(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.answers) == 1
	}, "remote answer was not applied")

	eng.onNegotiated()
	snap = h.waitStatus(t, domain.CallStatusConnected)
	assert.Equal(t, "00:00", snap.Elapsed)

	require.NoError(t, h.machine.End(ctx))
	snap = h.waitStatus(t, domain.CallStatusEnded)
	require.NotNil(t, snap.EndedAt)

	select {
	case got := <-h.transport.endCh:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("end was not sent to the far end")
	}
	assert.Equal(t, 1, eng.teardownCount())

	_, active := h.machine.ActiveCallID()
	assert.False(t, active)
}

func TestOutgoingCallMissedOnRingTimeout(t *testing.T) {
	h := newHarness(t, Config{RingTimeout: 30 * time.Millisecond})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)

	snap := h.waitStatus(t, domain.CallStatusMissed)
	assert.Equal(t, id, snap.CallID)
	assert.Zero(t, snap.DurationSeconds)

	select {
	case got := <-h.transport.endCh:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("missed call did not notify the far end")
	}
}

func TestIncomingCallAcceptFlow(t *testing.T) {
	h := newHarness(t, Config{})
	callID := uuid.New()

	h.machine.HandleIncomingOffer(domain.IncomingCallEvent{
		CallID:    callID,
		Caller:    peer(),
		Kind:      domain.CallKindAudio,
		Offer:     "their-offer",
		Timestamp: time.Now(),
	})

	snap := h.waitStatus(t, domain.CallStatusRinging)
	assert.False(t, snap.Outgoing)
	assert.True(t, snap.AudioEnabled)
	assert.False(t, snap.VideoEnabled)

	require.NoError(t, h.machine.Accept(context.Background()))
	h.waitStatus(t, domain.CallStatusConnecting)

	h.transport.mu.Lock()
	require.Len(t, h.transport.accepted, 1)
	assert.Equal(t, callID, h.transport.accepted[0])
	h.transport.mu.Unlock()

	h.engine(0).onNegotiated()
	h.waitStatus(t, domain.CallStatusConnected)
}

func TestIncomingCallReject(t *testing.T) {
	h := newHarness(t, Config{})
	callID := uuid.New()

	h.machine.HandleIncomingOffer(domain.IncomingCallEvent{
		CallID: callID,
		Caller: peer(),
		Kind:   domain.CallKindVideo,
		Offer:  "their-offer",
	})
	h.waitStatus(t, domain.CallStatusRinging)

	require.NoError(t, h.machine.Reject(context.Background()))
	h.waitStatus(t, domain.CallStatusRejected)

	select {
	case got := <-h.transport.rejectCh:
		assert.Equal(t, callID, got)
		assert.Equal(t, "", h.transport.rejectReason(callID))
	case <-time.After(time.Second):
		t.Fatal("reject was not sent")
	}
}

func TestIncomingWhileBusyIsAutoRejected(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	busyID := uuid.New()
	h.machine.HandleIncomingOffer(domain.IncomingCallEvent{
		CallID: busyID,
		Caller: peer(),
		Kind:   domain.CallKindAudio,
		Offer:  "their-offer",
	})

	select {
	case got := <-h.transport.rejectCh:
		assert.Equal(t, busyID, got)
		assert.Equal(t, "busy", h.transport.rejectReason(busyID))
	case <-time.After(time.Second):
		t.Fatal("busy call was not auto-rejected")
	}

	// The original call is untouched.
	assert.Equal(t, domain.CallStatusRinging, h.machine.Snapshot().Status)
}

func TestSecondInitiateWhileActiveFails(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.machine.Initiate(ctx, peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)

	_, err = h.machine.Initiate(ctx, peer(), domain.CallKindAudio, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallInProgress))
}

func TestRemoteRejectEndsOutgoingCall(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindVideo, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleRemoteReject(id)
	h.waitStatus(t, domain.CallStatusRejected)
	assert.Equal(t, 1, h.engine(0).teardownCount())
}

func TestRemoteEndDuringConnectedCall(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleRemoteAnswer(id, "remote-answer")
	h.waitStatus(t, domain.CallStatusConnecting)
	h.engine(0).onNegotiated()
	h.waitStatus(t, domain.CallStatusConnected)

	h.machine.HandleRemoteEnd(id)
	snap := h.waitStatus(t, domain.CallStatusEnded)
	require.NotNil(t, snap.EndedAt)
}

func TestCandidatesBufferedUntilAccepted(t *testing.T) {
	h := newHarness(t, Config{})
	callID := uuid.New()

	h.machine.HandleIncomingOffer(domain.IncomingCallEvent{
		CallID: callID,
		Caller: peer(),
		Kind:   domain.CallKindAudio,
		Offer:  "their-offer",
	})
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleCandidate(callID, "cand-1")
	h.machine.HandleCandidate(callID, "cand-2")

	require.NoError(t, h.machine.Accept(context.Background()))
	h.waitStatus(t, domain.CallStatusConnecting)

	waitFor(t, func() bool {
		return len(h.engine(0).appliedCandidates()) == 2
	}, "buffered candidates were not applied")
	assert.Equal(t, []string{"cand-1", "cand-2"}, h.engine(0).appliedCandidates())
}

func TestSignalsForOtherCallsAreDropped(t *testing.T) {
	h := newHarness(t, Config{})

	// Nothing active: must not panic or change state.
	h.machine.HandleRemoteEnd(uuid.New())
	h.machine.HandleCandidate(uuid.New(), "cand")
	_, active := h.machine.ActiveCallID()
	assert.False(t, active)

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleRemoteEnd(uuid.New())
	h.machine.HandleRemoteAnswer(uuid.New(), "stale-answer")

	snap := h.machine.Snapshot()
	assert.Equal(t, id, snap.CallID)
	assert.Equal(t, domain.CallStatusRinging, snap.Status)
}

func TestAcceptOnOutgoingCallIsRejected(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	err = h.machine.Accept(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.CallStatusRinging, h.machine.Snapshot().Status)
}

func TestNegotiationErrorFailsCall(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindVideo, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleRemoteAnswer(id, "remote-answer")
	h.waitStatus(t, domain.CallStatusConnecting)

	h.engine(0).onNegErr(assert.AnError)
	h.waitStatus(t, domain.CallStatusFailed)
	assert.Equal(t, 1, h.engine(0).teardownCount())
}

func TestTransportLostFailsActiveCall(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleTransportLost()
	h.waitStatus(t, domain.CallStatusFailed)
}

func TestEndDuringMediaAcquisitionCancels(t *testing.T) {
	gate := make(chan struct{})
	engCh := make(chan *fakeEngine, 1)

	ht := &harness{transport: newFakeTransport()}
	factory := func() media.Engine {
		e := &fakeEngine{acquireGate: gate}
		engCh <- e
		return e
	}
	ht.machine = New(Config{}, domain.Participant{UserID: uuid.New()}, ht.transport, factory)
	defer ht.machine.Close()

	type result struct {
		id  uuid.UUID
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := ht.machine.Initiate(context.Background(), peer(), domain.CallKindVideo, nil)
		done <- result{id: id, err: err}
	}()

	var eng *fakeEngine
	select {
	case eng = <-engCh:
	case <-time.After(time.Second):
		t.Fatal("media acquisition never started")
	}

	// Hang up while media is still being acquired.
	require.NoError(t, ht.machine.End(context.Background()))
	close(gate)

	select {
	case res := <-done:
		require.Error(t, res.err)
		assert.True(t, apperrors.HasCode(res.err, apperrors.ErrCodeCallCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("initiate did not return after cancel")
	}

	waitFor(t, func() bool { return eng.teardownCount() == 1 }, "canceled engine was not torn down")

	select {
	case <-ht.transport.endCh:
	case <-time.After(time.Second):
		t.Fatal("far end was not told the call is over")
	}

	_, active := ht.machine.ActiveCallID()
	assert.False(t, active)
}

func TestMediaAcquisitionFailureLeavesMachineIdle(t *testing.T) {
	ht := &harness{transport: newFakeTransport()}
	factory := func() media.Engine {
		return &fakeEngine{acquireErr: apperrors.CapabilityError("camera unavailable", nil)}
	}
	ht.machine = New(Config{}, domain.Participant{UserID: uuid.New()}, ht.transport, factory)
	defer ht.machine.Close()

	_, err := ht.machine.Initiate(context.Background(), peer(), domain.CallKindVideo, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCapability))

	_, active := ht.machine.ActiveCallID()
	assert.False(t, active)

	// Slot is free again.
	_, err = ht.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
}

func TestToggleMediaForwardsToPeer(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindVideo, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	off := false
	require.NoError(t, h.machine.SetMediaEnabled(context.Background(), &off, nil))

	snap := h.waitStatus(t, domain.CallStatusRinging)
	assert.False(t, snap.VideoEnabled)
	assert.True(t, snap.AudioEnabled)

	waitFor(t, func() bool {
		h.transport.mu.Lock()
		defer h.transport.mu.Unlock()
		return len(h.transport.toggles) == 1
	}, "toggle was not forwarded")

	h.transport.mu.Lock()
	req := h.transport.toggles[0]
	h.transport.mu.Unlock()
	assert.Equal(t, id, req.CallID)
	require.NotNil(t, req.VideoEnabled)
	assert.False(t, *req.VideoEnabled)
	assert.Nil(t, req.AudioEnabled)
}

func TestRemoteToggleUpdatesSnapshot(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindVideo, nil)
	require.NoError(t, err)
	snap := h.waitStatus(t, domain.CallStatusRinging)
	assert.True(t, snap.RemoteVideoEnabled)

	off := false
	h.machine.HandleRemoteToggle(id, &off, nil)

	snap = h.waitStatus(t, domain.CallStatusRinging)
	assert.False(t, snap.RemoteVideoEnabled)
	assert.True(t, snap.RemoteAudioEnabled)
}

func TestEndIsIdempotentOnTerminalCall(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
	require.NoError(t, err)
	h.waitStatus(t, domain.CallStatusRinging)

	h.machine.HandleRemoteEnd(id)
	h.waitStatus(t, domain.CallStatusEnded)

	// Second hangup after the slot is free reports no active call.
	err = h.machine.End(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
	assert.Equal(t, 1, h.engine(0).teardownCount())
}

func TestDuplicateIncomingOfferIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	callID := uuid.New()
	ev := domain.IncomingCallEvent{
		CallID: callID,
		Caller: peer(),
		Kind:   domain.CallKindAudio,
		Offer:  "their-offer",
	}

	h.machine.HandleIncomingOffer(ev)
	h.waitStatus(t, domain.CallStatusRinging)

	// The relay may redeliver the same event after a reconnect. It must
	// not be mistaken for a second call and busy-rejected.
	h.machine.HandleIncomingOffer(ev)

	select {
	case got := <-h.transport.rejectCh:
		t.Fatalf("machine rejected its own active call %s", got)
	case <-time.After(100 * time.Millisecond):
	}

	snap := h.machine.Snapshot()
	assert.Equal(t, domain.CallStatusRinging, snap.Status)
	assert.Equal(t, callID, snap.CallID)

	require.NoError(t, h.machine.Accept(context.Background()))
	h.waitStatus(t, domain.CallStatusConnecting)
}

func TestUnmappedEventsLeaveStateUnchanged(t *testing.T) {
	outgoingRinging := func(t *testing.T, h *harness) uuid.UUID {
		id, err := h.machine.Initiate(context.Background(), peer(), domain.CallKindAudio, nil)
		require.NoError(t, err)
		h.waitStatus(t, domain.CallStatusRinging)
		return id
	}
	incomingRinging := func(t *testing.T, h *harness) uuid.UUID {
		id := uuid.New()
		h.machine.HandleIncomingOffer(domain.IncomingCallEvent{
			CallID: id,
			Caller: peer(),
			Kind:   domain.CallKindAudio,
			Offer:  "their-offer",
		})
		h.waitStatus(t, domain.CallStatusRinging)
		return id
	}
	connecting := func(t *testing.T, h *harness) uuid.UUID {
		id := outgoingRinging(t, h)
		h.machine.HandleRemoteAnswer(id, "remote-answer")
		h.waitStatus(t, domain.CallStatusConnecting)
		return id
	}
	connected := func(t *testing.T, h *harness) uuid.UUID {
		id := connecting(t, h)
		h.engine(0).onNegotiated()
		h.waitStatus(t, domain.CallStatusConnected)
		return id
	}

	tests := []struct {
		name  string
		state func(t *testing.T, h *harness) uuid.UUID
		event func(h *harness, id uuid.UUID)
		want  domain.CallStatus
	}{
		{
			name:  "negotiated while outgoing ringing",
			state: outgoingRinging,
			event: func(h *harness, id uuid.UUID) { h.engine(0).onNegotiated() },
			want:  domain.CallStatusRinging,
		},
		{
			name:  "accept while outgoing ringing",
			state: outgoingRinging,
			event: func(h *harness, id uuid.UUID) { _ = h.machine.Accept(context.Background()) },
			want:  domain.CallStatusRinging,
		},
		{
			name:  "remote answer while incoming ringing",
			state: incomingRinging,
			event: func(h *harness, id uuid.UUID) { h.machine.HandleRemoteAnswer(id, "answer") },
			want:  domain.CallStatusRinging,
		},
		{
			name:  "remote reject while incoming ringing",
			state: incomingRinging,
			event: func(h *harness, id uuid.UUID) { h.machine.HandleRemoteReject(id) },
			want:  domain.CallStatusRinging,
		},
		{
			name:  "negotiated while incoming ringing",
			state: incomingRinging,
			event: func(h *harness, id uuid.UUID) { h.machine.post(cmdNegotiated{id: id}) },
			want:  domain.CallStatusRinging,
		},
		{
			name:  "remote answer while connecting",
			state: connecting,
			event: func(h *harness, id uuid.UUID) { h.machine.HandleRemoteAnswer(id, "again") },
			want:  domain.CallStatusConnecting,
		},
		{
			name:  "accept while connecting",
			state: connecting,
			event: func(h *harness, id uuid.UUID) { _ = h.machine.Accept(context.Background()) },
			want:  domain.CallStatusConnecting,
		},
		{
			name:  "remote answer while connected",
			state: connected,
			event: func(h *harness, id uuid.UUID) { h.machine.HandleRemoteAnswer(id, "late") },
			want:  domain.CallStatusConnected,
		},
		{
			name:  "remote reject while connected",
			state: connected,
			event: func(h *harness, id uuid.UUID) { h.machine.HandleRemoteReject(id) },
			want:  domain.CallStatusConnected,
		},
		{
			name:  "negotiated twice while connected",
			state: connected,
			event: func(h *harness, id uuid.UUID) { h.engine(0).onNegotiated() },
			want:  domain.CallStatusConnected,
		},
		{
			name:  "negotiation error while connected",
			state: connected,
			event: func(h *harness, id uuid.UUID) { h.engine(0).onNegErr(assert.AnError) },
			want:  domain.CallStatusConnected,
		},
		{
			name:  "ring timeout while connected",
			state: connected,
			event: func(h *harness, id uuid.UUID) { h.machine.post(cmdRingTimeout{id: id}) },
			want:  domain.CallStatusConnected,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			id := tc.state(t, h)

			tc.event(h, id)
			time.Sleep(25 * time.Millisecond)

			snap := h.machine.Snapshot()
			assert.Equal(t, tc.want, snap.Status)
			assert.Equal(t, id, snap.CallID)
		})
	}
}
