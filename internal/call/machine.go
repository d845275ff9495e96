// Package call drives one peer-to-peer call session through its
// lifecycle. The machine owns the single active-call slot; all state
// lives on one run goroutine fed by a serialized inbox, so transitions
// are atomic with respect to each other without locking.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/internal/media"
	apperrors "callsync/pkg/errors"
	"callsync/pkg/logger"
	"callsync/pkg/metrics"
)

// Config controls call lifecycle timing
type Config struct {
	// RingTimeout bounds how long an outgoing call rings before it is missed
	RingTimeout time.Duration
	// TickInterval drives the elapsed-time updates while connected
	TickInterval time.Duration
	// SendTimeout bounds fire-and-forget outbound operations
	SendTimeout time.Duration
}

func (c *Config) defaults() {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 45 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
}

// Machine is the call signaling state machine
type Machine struct {
	cfg       Config
	self      domain.Participant
	transport Transport
	newEngine media.Factory

	inbox     chan command
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned; never touched outside run
	sess    *session
	pending *pendingCall

	// shared view for Snapshot/ActiveCallID and subscribers
	viewMu   sync.Mutex
	last     Snapshot
	activeID uuid.UUID
	active   bool
	subs     []chan Snapshot
}

// pendingCall tracks an initiate whose media acquisition is still in
// flight; the machine has not left idle yet.
type pendingCall struct {
	id       uuid.UUID
	kind     domain.CallKind
	peer     domain.Participant
	convID   *uuid.UUID
	canceled bool
	reply    chan initResult
}

type initResult struct {
	id  uuid.UUID
	err error
}

// Commands posted to the serialized inbox.
type command interface{}

type cmdInitiate struct {
	peer   domain.Participant
	kind   domain.CallKind
	convID *uuid.UUID
	reply  chan initResult
}

type cmdOutgoingReady struct {
	id  uuid.UUID
	eng media.Engine
}

type cmdOutgoingFailed struct {
	id  uuid.UUID
	eng media.Engine
	err error
}

type cmdIncoming struct{ ev domain.IncomingCallEvent }

type cmdAccept struct{ reply chan error }

type cmdAnswerReady struct {
	id  uuid.UUID
	eng media.Engine
}

type cmdAnswerFailed struct {
	id  uuid.UUID
	eng media.Engine
	err error
}

type cmdLocalReject struct{ reply chan error }
type cmdLocalEnd struct{ reply chan error }

type cmdRemoteAnswer struct {
	id      uuid.UUID
	payload string
}

type cmdRemoteReject struct{ id uuid.UUID }
type cmdRemoteEnd struct{ id uuid.UUID }

type cmdCandidate struct {
	id      uuid.UUID
	payload string
}

type cmdNegotiated struct{ id uuid.UUID }
type cmdNegotiationErr struct {
	id  uuid.UUID
	err error
}
type cmdRemoteTrack struct{ id uuid.UUID }

type cmdRingTimeout struct{ id uuid.UUID }
type cmdTick struct{ id uuid.UUID }
type cmdTransportLost struct{}

type cmdToggle struct {
	video *bool
	audio *bool
	reply chan error
}

type cmdStatusEvent struct{ ev domain.CallStatusEvent }

type cmdRemoteToggle struct {
	id    uuid.UUID
	video *bool
	audio *bool
}

// New creates the machine and starts its run goroutine
func New(cfg Config, self domain.Participant, transport Transport, factory media.Factory) *Machine {
	cfg.defaults()
	m := &Machine{
		cfg:       cfg,
		self:      self,
		transport: transport,
		newEngine: factory,
		inbox:     make(chan command, 64),
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops the machine, ending any active call
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Machine) post(c command) {
	select {
	case m.inbox <- c:
	case <-m.done:
	}
}

// Initiate starts an outgoing call. It acquires local media and sends
// the offer before the session is considered ringing; a media failure
// leaves the machine idle and is returned to the caller.
func (m *Machine) Initiate(ctx context.Context, peer domain.Participant, kind domain.CallKind, convID *uuid.UUID) (uuid.UUID, error) {
	reply := make(chan initResult, 1)
	m.post(cmdInitiate{peer: peer, kind: kind, convID: convID, reply: reply})
	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case <-m.done:
		return uuid.Nil, apperrors.StateError("machine closed")
	}
}

// Accept answers the incoming ringing call
func (m *Machine) Accept(ctx context.Context) error {
	reply := make(chan error, 1)
	m.post(cmdAccept{reply: reply})
	return m.await(ctx, reply)
}

// Reject declines the incoming ringing call
func (m *Machine) Reject(ctx context.Context) error {
	reply := make(chan error, 1)
	m.post(cmdLocalReject{reply: reply})
	return m.await(ctx, reply)
}

// End hangs up the active call (or cancels one still being set up)
func (m *Machine) End(ctx context.Context) error {
	reply := make(chan error, 1)
	m.post(cmdLocalEnd{reply: reply})
	return m.await(ctx, reply)
}

// SetMediaEnabled flips local track state and informs the far end
func (m *Machine) SetMediaEnabled(ctx context.Context, video, audio *bool) error {
	reply := make(chan error, 1)
	m.post(cmdToggle{video: video, audio: audio, reply: reply})
	return m.await(ctx, reply)
}

func (m *Machine) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return apperrors.StateError("machine closed")
	}
}

// Entry points for inbound events (dispatcher and engine callbacks).

// HandleIncomingOffer feeds a remote call offer into the machine
func (m *Machine) HandleIncomingOffer(ev domain.IncomingCallEvent) {
	m.post(cmdIncoming{ev: ev})
}

// HandleRemoteAnswer feeds the callee's answer for an outgoing call
func (m *Machine) HandleRemoteAnswer(callID uuid.UUID, payload string) {
	m.post(cmdRemoteAnswer{id: callID, payload: payload})
}

// HandleRemoteReject records that the callee declined
func (m *Machine) HandleRemoteReject(callID uuid.UUID) {
	m.post(cmdRemoteReject{id: callID})
}

// HandleRemoteEnd records a hangup from the far end
func (m *Machine) HandleRemoteEnd(callID uuid.UUID) {
	m.post(cmdRemoteEnd{id: callID})
}

// HandleCandidate applies (or buffers) a remote connectivity candidate
func (m *Machine) HandleCandidate(callID uuid.UUID, payload string) {
	m.post(cmdCandidate{id: callID, payload: payload})
}

// HandleRemoteToggle records the far end enabling or disabling tracks
func (m *Machine) HandleRemoteToggle(callID uuid.UUID, video, audio *bool) {
	m.post(cmdRemoteToggle{id: callID, video: video, audio: audio})
}

// HandleStatusEvent applies an authoritative status change from the relay
func (m *Machine) HandleStatusEvent(ev domain.CallStatusEvent) {
	m.post(cmdStatusEvent{ev: ev})
}

// HandleTransportLost fails the active call when the event stream is gone
func (m *Machine) HandleTransportLost() {
	m.post(cmdTransportLost{})
}

// Snapshot returns the most recently published session view
func (m *Machine) Snapshot() Snapshot {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	return m.last
}

// ActiveCallID returns the call occupying the active slot, if any
func (m *Machine) ActiveCallID() (uuid.UUID, bool) {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	return m.activeID, m.active
}

// Updates returns a channel receiving session snapshots. Slow receivers
// miss intermediate snapshots rather than blocking the machine.
func (m *Machine) Updates() <-chan Snapshot {
	ch := make(chan Snapshot, 16)
	m.viewMu.Lock()
	m.subs = append(m.subs, ch)
	m.viewMu.Unlock()
	return ch
}

func (m *Machine) publish() {
	var snap Snapshot
	now := time.Now()
	if m.sess != nil {
		snap = m.sess.snapshot(now)
	} else {
		m.viewMu.Lock()
		snap = m.last
		m.viewMu.Unlock()
	}

	m.viewMu.Lock()
	m.last = snap
	if m.sess != nil && !m.sess.status.IsTerminal() {
		m.activeID = m.sess.id
		m.active = true
	} else {
		m.active = false
	}
	subs := m.subs
	m.viewMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// run is the single writer for all machine state
func (m *Machine) run() {
	for {
		select {
		case <-m.done:
			m.shutdown()
			return
		case c := <-m.inbox:
			m.handle(c)
		}
	}
}

func (m *Machine) handle(c command) {
	switch c := c.(type) {
	case cmdInitiate:
		m.handleInitiate(c)
	case cmdOutgoingReady:
		m.handleOutgoingReady(c)
	case cmdOutgoingFailed:
		m.handleOutgoingFailed(c)
	case cmdIncoming:
		m.handleIncoming(c.ev)
	case cmdAccept:
		m.handleAccept(c)
	case cmdAnswerReady:
		m.handleAnswerReady(c)
	case cmdAnswerFailed:
		m.handleAnswerFailed(c)
	case cmdLocalReject:
		m.handleLocalReject(c)
	case cmdLocalEnd:
		m.handleLocalEnd(c)
	case cmdRemoteAnswer:
		m.handleRemoteAnswer(c)
	case cmdRemoteReject:
		m.handleRemoteReject(c)
	case cmdRemoteEnd:
		m.handleRemoteEnd(c)
	case cmdCandidate:
		m.handleCandidate(c)
	case cmdNegotiated:
		m.handleNegotiated(c)
	case cmdNegotiationErr:
		m.handleNegotiationErr(c)
	case cmdRemoteTrack:
		m.handleRemoteTrack(c)
	case cmdRingTimeout:
		m.handleRingTimeout(c)
	case cmdTick:
		m.handleTick(c)
	case cmdTransportLost:
		m.handleTransportLost()
	case cmdToggle:
		m.handleToggle(c)
	case cmdRemoteToggle:
		m.handleRemoteToggle(c)
	case cmdStatusEvent:
		m.handleStatusEvent(c.ev)
	}
}

func (m *Machine) shutdown() {
	if m.pending != nil {
		m.pending.canceled = true
		m.pending.reply <- initResult{err: apperrors.CallCanceledError()}
		m.pending = nil
	}
	if m.sess != nil && !m.sess.status.IsTerminal() {
		id := m.sess.id
		m.terminal(domain.CallStatusEnded)
		m.sendAsync(func(ctx context.Context) error {
			return m.transport.EndCall(ctx, id, "")
		}, "end_call")
	}
}

// sendAsync performs a fire-and-forget outbound operation off the loop
func (m *Machine) sendAsync(fn func(context.Context) error, op string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("outbound call operation failed",
				zap.String("op", op),
				zap.Error(err))
		}
	}()
}

func (m *Machine) invalid(event string) {
	state := "idle"
	if m.sess != nil {
		state = string(m.sess.status)
	}
	logger.Warn("event not valid in current state",
		zap.String("event", event),
		zap.String("state", state))
	metrics.CallInvalidTransitionTotal.WithLabelValues(state, event).Inc()
}

// ---- initiate ----

func (m *Machine) handleInitiate(c cmdInitiate) {
	if m.sess != nil || m.pending != nil {
		c.reply <- initResult{err: apperrors.CallInProgressError()}
		return
	}

	p := &pendingCall{
		id:     uuid.New(),
		kind:   c.kind,
		peer:   c.peer,
		convID: c.convID,
		reply:  c.reply,
	}
	m.pending = p
	go m.setupOutgoing(p)
}

// setupOutgoing runs off the loop: media acquisition and the initial
// send may suspend for a long time, and the inbox must stay responsive
// to a cancel arriving meanwhile.
func (m *Machine) setupOutgoing(p *pendingCall) {
	eng := m.newEngine()
	m.wireEngine(eng, p.id)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout*4)
	defer cancel()

	if err := eng.AcquireLocalMedia(ctx, p.kind); err != nil {
		m.post(cmdOutgoingFailed{id: p.id, eng: eng, err: err})
		return
	}

	offer, err := eng.CreateOffer(ctx)
	if err != nil {
		m.post(cmdOutgoingFailed{id: p.id, eng: eng, err: err})
		return
	}

	req := domain.InitiateCallRequest{
		CallID:         p.id,
		RecipientID:    p.peer.UserID,
		Kind:           p.kind,
		Offer:          offer,
		ConversationID: p.convID,
	}
	if err := m.transport.InitiateCall(ctx, req); err != nil {
		m.post(cmdOutgoingFailed{id: p.id, eng: eng, err: apperrors.TransportError("failed to send call offer", err)})
		return
	}

	m.post(cmdOutgoingReady{id: p.id, eng: eng})
}

// wireEngine connects engine callbacks to the inbox. Local candidates
// go straight out as signaling messages; they are not lifecycle events.
func (m *Machine) wireEngine(eng media.Engine, callID uuid.UUID) {
	eng.OnLocalCandidate(func(payload string) {
		m.sendAsync(func(ctx context.Context) error {
			return m.transport.SendSignal(ctx, domain.SignalingMessage{
				CallID:    callID,
				SenderID:  m.self.UserID,
				Kind:      domain.SignalCandidate,
				Payload:   payload,
				Timestamp: time.Now(),
			})
		}, "send_candidate")
	})
	eng.OnNegotiated(func() { m.post(cmdNegotiated{id: callID}) })
	eng.OnNegotiationError(func(err error) { m.post(cmdNegotiationErr{id: callID, err: err}) })
	eng.OnRemoteTrackReady(func() { m.post(cmdRemoteTrack{id: callID}) })
}

func (m *Machine) handleOutgoingReady(c cmdOutgoingReady) {
	p := m.pending
	if p == nil || p.id != c.id {
		c.eng.Teardown()
		return
	}
	m.pending = nil

	if p.canceled {
		// Canceled while media was being acquired: release what was
		// acquired and make sure the far end does not keep ringing.
		c.eng.Teardown()
		m.sendAsync(func(ctx context.Context) error {
			return m.transport.EndCall(ctx, p.id, "")
		}, "end_call")
		p.reply <- initResult{err: apperrors.CallCanceledError()}
		return
	}

	s := newSession(p.id, p.kind, p.peer, true, p.convID)
	s.engine = c.eng
	s.engineReady = true
	s.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() {
		m.post(cmdRingTimeout{id: p.id})
	})
	m.sess = s

	metrics.CallsInitiatedTotal.WithLabelValues(string(p.kind)).Inc()
	metrics.CallActive.Set(1)
	logger.ForCall(s.id).Info("outgoing call ringing",
		zap.String("peer", s.peer.UserID.String()),
		zap.String("kind", string(s.kind)))

	p.reply <- initResult{id: p.id}
	m.publish()
}

func (m *Machine) handleOutgoingFailed(c cmdOutgoingFailed) {
	p := m.pending
	if p == nil || p.id != c.id {
		c.eng.Teardown()
		return
	}
	m.pending = nil
	c.eng.Teardown()

	if p.canceled {
		p.reply <- initResult{err: apperrors.CallCanceledError()}
		return
	}

	logger.ForCall(p.id).Warn("call setup failed", zap.Error(c.err))
	p.reply <- initResult{err: c.err}
}

// ---- incoming ----

func (m *Machine) handleIncoming(ev domain.IncomingCallEvent) {
	if m.sess != nil && m.sess.id == ev.CallID {
		// Redelivery of the call we are already handling.
		logger.ForCall(ev.CallID).Debug("dropping duplicate incoming call event")
		metrics.SignalsDroppedTotal.WithLabelValues("duplicate").Inc()
		return
	}
	if m.sess != nil || m.pending != nil {
		// Busy: exactly one call may occupy the active slot.
		logger.ForCall(ev.CallID).Info("rejecting incoming call, another call is active")
		metrics.CallsBusyRejectedTotal.Inc()
		m.sendAsync(func(ctx context.Context) error {
			return m.transport.RejectCall(ctx, ev.CallID, "busy")
		}, "reject_call")
		return
	}

	s := newSession(ev.CallID, ev.Kind, ev.Caller, false, ev.ConversationID)
	s.offer = ev.Offer
	m.sess = s

	metrics.CallsIncomingTotal.WithLabelValues(string(ev.Kind)).Inc()
	metrics.CallActive.Set(1)
	logger.ForCall(s.id).Info("incoming call ringing",
		zap.String("caller", ev.Caller.UserID.String()),
		zap.String("kind", string(ev.Kind)))
	m.publish()
}

func (m *Machine) handleAccept(c cmdAccept) {
	s := m.sess
	if s == nil {
		c.reply <- apperrors.CallNotFoundError()
		return
	}
	if s.status != domain.CallStatusRinging || s.outgoing || s.accepting {
		m.invalid("local_accept")
		c.reply <- apperrors.StateError("no incoming call is ringing")
		return
	}

	s.accepting = true
	s.acceptReply = c.reply
	go m.setupAnswer(s.id, s.kind, s.offer)
}

func (m *Machine) setupAnswer(callID uuid.UUID, kind domain.CallKind, offer string) {
	eng := m.newEngine()
	m.wireEngine(eng, callID)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout*4)
	defer cancel()

	if err := eng.AcquireLocalMedia(ctx, kind); err != nil {
		m.post(cmdAnswerFailed{id: callID, eng: eng, err: err})
		return
	}

	answer, err := eng.CreateAnswerFor(ctx, offer)
	if err != nil {
		m.post(cmdAnswerFailed{id: callID, eng: eng, err: err})
		return
	}

	if err := m.transport.AcceptCall(ctx, callID, answer); err != nil {
		m.post(cmdAnswerFailed{id: callID, eng: eng, err: apperrors.TransportError("failed to send answer", err)})
		return
	}

	m.post(cmdAnswerReady{id: callID, eng: eng})
}

func (m *Machine) handleAnswerReady(c cmdAnswerReady) {
	s := m.sess
	if s == nil || s.id != c.id || s.status.IsTerminal() {
		// The call went away while the answer was being prepared.
		c.eng.Teardown()
		return
	}

	s.engine = c.eng
	s.engineReady = true
	s.status = domain.CallStatusConnecting
	m.flushCandidates(s)

	if s.acceptReply != nil {
		s.acceptReply <- nil
		s.acceptReply = nil
	}
	logger.ForCall(s.id).Info("call accepted, connecting")
	m.publish()
}

func (m *Machine) handleAnswerFailed(c cmdAnswerFailed) {
	c.eng.Teardown()

	s := m.sess
	if s == nil || s.id != c.id {
		return
	}
	s.accepting = false
	if s.acceptReply != nil {
		s.acceptReply <- c.err
		s.acceptReply = nil
	}
	logger.ForCall(s.id).Warn("accept failed", zap.Error(c.err))
}

// ---- local terminations ----

func (m *Machine) handleLocalReject(c cmdLocalReject) {
	s := m.sess
	if s == nil {
		c.reply <- apperrors.CallNotFoundError()
		return
	}
	if s.status != domain.CallStatusRinging || s.outgoing {
		m.invalid("local_reject")
		c.reply <- apperrors.StateError("no incoming call is ringing")
		return
	}

	id := s.id
	m.terminal(domain.CallStatusRejected)
	m.sendAsync(func(ctx context.Context) error {
		return m.transport.RejectCall(ctx, id, "")
	}, "reject_call")
	c.reply <- nil
}

func (m *Machine) handleLocalEnd(c cmdLocalEnd) {
	if m.pending != nil {
		// Cancel mid-acquisition; setupOutgoing's completion releases
		// the engine and notifies the far end.
		m.pending.canceled = true
		c.reply <- nil
		return
	}

	s := m.sess
	if s == nil {
		c.reply <- apperrors.CallNotFoundError()
		return
	}
	if s.status.IsTerminal() {
		c.reply <- nil
		return
	}

	id := s.id
	m.terminal(domain.CallStatusEnded)
	m.sendAsync(func(ctx context.Context) error {
		return m.transport.EndCall(ctx, id, "")
	}, "end_call")
	c.reply <- nil
}

// ---- remote events ----

func (m *Machine) staleOrMissing(id uuid.UUID, event string) bool {
	if m.sess == nil || m.sess.id != id {
		logger.Debug("dropping signal for inactive call",
			zap.String("event", event),
			zap.String("call_id", id.String()))
		metrics.SignalsDroppedTotal.WithLabelValues("stale").Inc()
		return true
	}
	return false
}

func (m *Machine) handleRemoteAnswer(c cmdRemoteAnswer) {
	if m.staleOrMissing(c.id, "remote_answer") {
		return
	}
	s := m.sess
	if s.status != domain.CallStatusRinging || !s.outgoing {
		m.invalid("remote_answer")
		return
	}

	s.stopRingTimer()
	s.status = domain.CallStatusConnecting
	m.flushCandidates(s)
	logger.ForCall(s.id).Info("call answered, connecting")
	m.publish()

	eng := s.engine
	id := s.id
	go func() {
		if err := eng.ApplyRemoteAnswer(c.payload); err != nil {
			logger.ForCall(id).Warn("failed to apply remote answer", zap.Error(err))
			m.post(cmdNegotiationErr{id: id, err: err})
		}
	}()
}

func (m *Machine) handleRemoteReject(c cmdRemoteReject) {
	if m.staleOrMissing(c.id, "remote_reject") {
		return
	}
	s := m.sess
	if s.status != domain.CallStatusRinging || !s.outgoing {
		m.invalid("remote_reject")
		return
	}
	logger.ForCall(s.id).Info("call rejected by peer")
	m.terminal(domain.CallStatusRejected)
}

func (m *Machine) handleRemoteEnd(c cmdRemoteEnd) {
	if m.staleOrMissing(c.id, "remote_end") {
		return
	}
	if m.sess.status.IsTerminal() {
		m.invalid("remote_end")
		return
	}
	logger.ForCall(c.id).Info("call ended by peer")
	m.terminal(domain.CallStatusEnded)
}

func (m *Machine) handleStatusEvent(ev domain.CallStatusEvent) {
	if m.staleOrMissing(ev.CallID, "call_status") {
		return
	}
	if m.sess.status.IsTerminal() || !ev.Status.IsTerminal() {
		return
	}
	logger.ForCall(ev.CallID).Info("authoritative status change",
		zap.String("status", string(ev.Status)))
	m.terminal(ev.Status)
}

// ---- media path events ----

func (m *Machine) handleCandidate(c cmdCandidate) {
	if m.staleOrMissing(c.id, "candidate") {
		return
	}
	s := m.sess
	if s.status.IsTerminal() {
		metrics.SignalsDroppedTotal.WithLabelValues("stale").Inc()
		return
	}

	if !s.engineReady {
		// Arrived before the local offer/answer exchange finished;
		// applied later in arrival order.
		s.candidateQueue = append(s.candidateQueue, c.payload)
		return
	}
	if err := s.engine.ApplyRemoteCandidate(c.payload); err != nil {
		logger.ForCall(s.id).Warn("failed to apply remote candidate", zap.Error(err))
	}
}

func (m *Machine) flushCandidates(s *session) {
	for _, payload := range s.candidateQueue {
		if err := s.engine.ApplyRemoteCandidate(payload); err != nil {
			logger.ForCall(s.id).Warn("failed to apply buffered candidate", zap.Error(err))
		}
	}
	s.candidateQueue = nil
}

func (m *Machine) handleNegotiated(c cmdNegotiated) {
	if m.sess == nil || m.sess.id != c.id {
		return
	}
	s := m.sess
	if s.status != domain.CallStatusConnecting {
		m.invalid("media_negotiated")
		return
	}

	s.status = domain.CallStatusConnected
	s.connectedAt = time.Now()
	s.tickStop = make(chan struct{})
	go m.tickLoop(s.id, s.tickStop)

	logger.ForCall(s.id).Info("call connected")
	m.publish()
}

func (m *Machine) tickLoop(id uuid.UUID, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.post(cmdTick{id: id})
		}
	}
}

func (m *Machine) handleNegotiationErr(c cmdNegotiationErr) {
	if m.sess == nil || m.sess.id != c.id {
		return
	}
	if m.sess.status != domain.CallStatusConnecting {
		m.invalid("negotiation_error")
		return
	}
	logger.ForCall(c.id).Warn("media negotiation failed", zap.Error(c.err))
	m.terminal(domain.CallStatusFailed)
}

func (m *Machine) handleRemoteTrack(c cmdRemoteTrack) {
	if m.sess == nil || m.sess.id != c.id || m.sess.status.IsTerminal() {
		return
	}
	m.sess.remoteMediaReady = true
	m.publish()
}

// ---- timers ----

func (m *Machine) handleRingTimeout(c cmdRingTimeout) {
	if m.sess == nil || m.sess.id != c.id {
		return
	}
	if m.sess.status != domain.CallStatusRinging || !m.sess.outgoing {
		return
	}

	id := m.sess.id
	logger.ForCall(id).Info("outgoing call timed out, marking missed")
	m.terminal(domain.CallStatusMissed)
	m.sendAsync(func(ctx context.Context) error {
		return m.transport.EndCall(ctx, id, "")
	}, "end_call")
}

func (m *Machine) handleTick(c cmdTick) {
	if m.sess == nil || m.sess.id != c.id || m.sess.status != domain.CallStatusConnected {
		return
	}
	m.publish()
}

func (m *Machine) handleTransportLost() {
	if m.pending != nil {
		m.pending.canceled = true
	}
	if m.sess == nil || m.sess.status.IsTerminal() {
		return
	}
	logger.ForCall(m.sess.id).Warn("event stream lost, failing active call")
	m.terminal(domain.CallStatusFailed)
}

// ---- toggles ----

func (m *Machine) handleToggle(c cmdToggle) {
	s := m.sess
	if s == nil || s.status.IsTerminal() {
		c.reply <- apperrors.CallNotFoundError()
		return
	}

	if c.video != nil {
		s.videoEnabled = *c.video
	}
	if c.audio != nil {
		s.audioEnabled = *c.audio
	}

	id := s.id
	video, audio := c.video, c.audio
	m.sendAsync(func(ctx context.Context) error {
		return m.transport.ToggleMedia(ctx, domain.ToggleMediaRequest{
			CallID:       id,
			VideoEnabled: video,
			AudioEnabled: audio,
		})
	}, "toggle_media")
	c.reply <- nil
	m.publish()
}

func (m *Machine) handleRemoteToggle(c cmdRemoteToggle) {
	if m.staleOrMissing(c.id, "media_toggle") {
		return
	}
	s := m.sess
	if s.status.IsTerminal() {
		return
	}
	if c.video != nil {
		s.remoteVideoEnabled = *c.video
	}
	if c.audio != nil {
		s.remoteAudioEnabled = *c.audio
	}
	m.publish()
}

// ---- terminal transition ----

// terminal moves the active session to its final status, stops timers,
// tears the media engine down exactly once, and frees the active slot.
func (m *Machine) terminal(status domain.CallStatus) {
	s := m.sess
	s.stopRingTimer()
	s.stopTicker()

	s.status = status
	s.endedAt = time.Now()

	if s.engine != nil && !s.toreDown {
		s.toreDown = true
		s.engine.Teardown()
	}
	if s.acceptReply != nil {
		s.acceptReply <- apperrors.StateError("call ended before it was accepted")
		s.acceptReply = nil
	}

	if !s.connectedAt.IsZero() {
		metrics.CallConnectedDuration.Observe(float64(s.durationSeconds(s.endedAt)))
	}
	metrics.CallsTerminatedTotal.WithLabelValues(string(status)).Inc()
	metrics.CallActive.Set(0)

	logger.ForCall(s.id).Info("call finished",
		zap.String("status", string(status)),
		zap.Int("duration_seconds", s.durationSeconds(s.endedAt)))

	m.publish()
	m.sess = nil
}
