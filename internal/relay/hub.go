package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/internal/stream"
	"callsync/pkg/logger"
	"callsync/pkg/metrics"
)

const fanoutChannel = "relay:fanout"

// Internal ops used to funnel HTTP-side pushes through the hub
// goroutine. Never accepted from the wire.
const (
	opInternalNotify  = "_notify"
	opInternalReceipt = "_receipt"
)

type notifyEnvelope struct {
	UserID       uuid.UUID           `json:"user_id"`
	Notification domain.Notification `json:"notification"`
}

type receiptEnvelope struct {
	UserID  uuid.UUID               `json:"user_id"`
	Receipt domain.ReadReceiptEvent `json:"receipt"`
}

// inboundFrame pairs a decoded frame with the client that sent it
type inboundFrame struct {
	from  *Client
	frame stream.Frame
}

// fanoutMessage carries a frame between relay instances over redis
// pub/sub. A nil Target means broadcast. Origin identifies the
// publishing instance; redis delivers to the publisher too, so each
// instance must skip its own messages.
type fanoutMessage struct {
	Origin uuid.UUID    `json:"origin"`
	Target *uuid.UUID   `json:"target,omitempty"`
	Frame  stream.Frame `json:"frame"`
}

// callRoute tracks who is on each side of a known call
type callRoute struct {
	caller   uuid.UUID
	callee   uuid.UUID
	kind     domain.CallKind
	accepted bool
}

func (r callRoute) other(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case r.caller:
		return r.callee, true
	case r.callee:
		return r.caller, true
	}
	return uuid.Nil, false
}

// Hub routes signaling frames between connected clients. All hub state
// is owned by the run goroutine; pumps and HTTP handlers talk to it
// through channels. With a redis client it also fans frames out to
// other relay instances; with nil redis it runs single-instance.
type Hub struct {
	presence PresenceStore
	store    *NotificationStore
	rdb      *redis.Client
	instance uuid.UUID

	clients map[uuid.UUID]*Client
	calls   map[uuid.UUID]*callRoute

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	outbound   chan fanoutMessage
	done       chan struct{}
}

func NewHub(presence PresenceStore, store *NotificationStore, rdb *redis.Client) *Hub {
	return &Hub{
		presence:   presence,
		store:      store,
		rdb:        rdb,
		instance:   uuid.New(),
		clients:    make(map[uuid.UUID]*Client),
		calls:      make(map[uuid.UUID]*callRoute),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 256),
		outbound:   make(chan fanoutMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run processes hub traffic until Stop is called
func (h *Hub) Run() {
	if h.rdb != nil {
		go h.fanoutLoop()
	}
	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case in := <-h.inbound:
			h.handleFrame(in)
		case msg := <-h.outbound:
			h.deliverFanout(msg)
		}
	}
}

// Stop shuts the hub down
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) refreshPresence(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Refresh(ctx, userID); err != nil {
		logger.Warn("presence refresh failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (h *Hub) handleRegister(c *Client) {
	// One connection per user; a newer one replaces the older.
	if prev, ok := h.clients[c.userID]; ok {
		close(prev.send)
	}
	h.clients[c.userID] = c
	metrics.RelayClientsConnected.Set(float64(len(h.clients)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.SetOnline(ctx, c.userID); err != nil {
		logger.Warn("presence set online failed", zap.Error(err))
	}

	h.broadcastPresence(c.userID, true)
	logger.Info("client connected",
		zap.String("user_id", c.userID.String()),
		zap.Int("clients", len(h.clients)))
}

func (h *Hub) handleUnregister(c *Client) {
	cur, ok := h.clients[c.userID]
	if !ok || cur != c {
		// Already replaced by a newer connection.
		return
	}
	delete(h.clients, c.userID)
	close(c.send)
	metrics.RelayClientsConnected.Set(float64(len(h.clients)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.SetOffline(ctx, c.userID); err != nil {
		logger.Warn("presence set offline failed", zap.Error(err))
	}

	// A vanished participant ends their calls.
	for callID, route := range h.calls {
		if peer, ok := route.other(c.userID); ok {
			h.sendCallSignal(peer, domain.SignalingMessage{
				CallID:    callID,
				SenderID:  c.userID,
				Kind:      domain.SignalEnd,
				Timestamp: time.Now(),
			})
			if !route.accepted && c.userID == route.caller {
				h.missedCall(route.callee, c.userID, route.kind)
			}
			delete(h.calls, callID)
		}
	}

	h.broadcastPresence(c.userID, false)
	logger.Info("client disconnected",
		zap.String("user_id", c.userID.String()),
		zap.Int("clients", len(h.clients)))
}

func (h *Hub) handleFrame(in inboundFrame) {
	if in.from == nil {
		h.handleInternal(in.frame)
		return
	}

	switch in.frame.Op {
	case opInternalNotify, opInternalReceipt:
		// Internal ops are not part of the client protocol.
		h.drop("unknown_op")

	case stream.OpSubscribe:
		var req struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(in.frame.Data, &req); err != nil || req.Topic == "" {
			h.drop("malformed")
			return
		}
		in.from.topics[req.Topic] = true

	case stream.OpInitiate:
		h.handleInitiate(in)
	case stream.OpSignal:
		h.handleSignal(in)
	case stream.OpAccept:
		h.handleAccept(in)
	case stream.OpReject:
		h.handleReject(in)
	case stream.OpEnd:
		h.handleEnd(in)
	case stream.OpToggleMedia:
		h.handleToggle(in)

	default:
		logger.Warn("unknown op from client",
			zap.String("op", in.frame.Op),
			zap.String("user_id", in.from.userID.String()))
		h.drop("unknown_op")
	}
}

func (h *Hub) handleInternal(f stream.Frame) {
	switch f.Op {
	case opInternalNotify:
		var env notifyEnvelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			return
		}
		h.pushNotification(env.UserID, env.Notification)
	case opInternalReceipt:
		var env receiptEnvelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			return
		}
		h.deliver(env.UserID, stream.TopicNotificationReads, mustJSON(env.Receipt))
	}
}

func (h *Hub) handleInitiate(in inboundFrame) {
	var req domain.InitiateCallRequest
	if err := json.Unmarshal(in.frame.Data, &req); err != nil {
		h.drop("malformed")
		return
	}

	online := h.recipientReachable(req.RecipientID)
	if !online {
		// Callee is nowhere to be found: fail the call immediately and
		// leave a missed-call notification for when they return.
		h.sendCallStatus(in.from.userID, domain.CallStatusEvent{
			CallID: req.CallID,
			Status: domain.CallStatusFailed,
			Reason: "recipient offline",
		})
		h.missedCall(req.RecipientID, in.from.userID, req.Kind)
		return
	}

	h.calls[req.CallID] = &callRoute{
		caller: in.from.userID,
		callee: req.RecipientID,
		kind:   req.Kind,
	}

	ev := domain.IncomingCallEvent{
		CallID:         req.CallID,
		Caller:         domain.Participant{UserID: in.from.userID, IsOnline: true},
		Kind:           req.Kind,
		Offer:          req.Offer,
		ConversationID: req.ConversationID,
		Timestamp:      time.Now(),
	}
	h.sendCallEvent(req.RecipientID, stream.CallEventIncoming, ev)
	metrics.RelayFramesForwardedTotal.WithLabelValues(stream.OpInitiate).Inc()
}

func (h *Hub) handleSignal(in inboundFrame) {
	var msg domain.SignalingMessage
	if err := json.Unmarshal(in.frame.Data, &msg); err != nil {
		h.drop("malformed")
		return
	}

	route, ok := h.calls[msg.CallID]
	if !ok {
		h.drop("unknown_call")
		return
	}
	peer, ok := route.other(in.from.userID)
	if !ok {
		h.drop("not_participant")
		return
	}

	msg.SenderID = in.from.userID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h.sendCallSignal(peer, msg)
	metrics.RelayFramesForwardedTotal.WithLabelValues(stream.OpSignal).Inc()

	if msg.Kind == domain.SignalEnd || msg.Kind == domain.SignalReject {
		delete(h.calls, msg.CallID)
	}
}

func (h *Hub) handleAccept(in inboundFrame) {
	var req domain.AcceptCallRequest
	if err := json.Unmarshal(in.frame.Data, &req); err != nil {
		h.drop("malformed")
		return
	}

	route, ok := h.calls[req.CallID]
	if !ok || in.from.userID != route.callee {
		h.drop("unknown_call")
		return
	}
	route.accepted = true

	h.sendCallSignal(route.caller, domain.SignalingMessage{
		CallID:    req.CallID,
		SenderID:  in.from.userID,
		Kind:      domain.SignalAnswer,
		Payload:   req.Answer,
		Timestamp: time.Now(),
	})
	metrics.RelayFramesForwardedTotal.WithLabelValues(stream.OpAccept).Inc()
}

func (h *Hub) handleReject(in inboundFrame) {
	var req domain.RejectCallRequest
	if err := json.Unmarshal(in.frame.Data, &req); err != nil {
		h.drop("malformed")
		return
	}

	route, ok := h.calls[req.CallID]
	if !ok {
		h.drop("unknown_call")
		return
	}
	peer, ok := route.other(in.from.userID)
	if !ok {
		h.drop("not_participant")
		return
	}

	h.sendCallSignal(peer, domain.SignalingMessage{
		CallID:    req.CallID,
		SenderID:  in.from.userID,
		Kind:      domain.SignalReject,
		Payload:   req.Reason,
		Timestamp: time.Now(),
	})
	metrics.RelayFramesForwardedTotal.WithLabelValues(stream.OpReject).Inc()
	delete(h.calls, req.CallID)
}

func (h *Hub) handleEnd(in inboundFrame) {
	var req domain.EndCallRequest
	if err := json.Unmarshal(in.frame.Data, &req); err != nil {
		h.drop("malformed")
		return
	}

	route, ok := h.calls[req.CallID]
	if !ok {
		h.drop("unknown_call")
		return
	}
	peer, ok := route.other(in.from.userID)
	if !ok {
		h.drop("not_participant")
		return
	}

	h.sendCallSignal(peer, domain.SignalingMessage{
		CallID:    req.CallID,
		SenderID:  in.from.userID,
		Kind:      domain.SignalEnd,
		Timestamp: time.Now(),
	})
	metrics.RelayFramesForwardedTotal.WithLabelValues(stream.OpEnd).Inc()

	// Hangup by the caller before an answer means the callee missed it.
	if !route.accepted && in.from.userID == route.caller {
		h.missedCall(route.callee, route.caller, route.kind)
	}
	delete(h.calls, req.CallID)
}

func (h *Hub) handleToggle(in inboundFrame) {
	var req domain.ToggleMediaRequest
	if err := json.Unmarshal(in.frame.Data, &req); err != nil {
		h.drop("malformed")
		return
	}

	route, ok := h.calls[req.CallID]
	if !ok {
		h.drop("unknown_call")
		return
	}
	peer, ok := route.other(in.from.userID)
	if !ok {
		h.drop("not_participant")
		return
	}

	h.sendCallEvent(peer, stream.CallEventMediaToggle, req)
	metrics.RelayFramesForwardedTotal.WithLabelValues(stream.OpToggleMedia).Inc()
}

// missedCall records a missed-call notification and pushes it live if
// the user is connected
func (h *Hub) missedCall(userID, from uuid.UUID, kind domain.CallKind) {
	n := h.store.Add(userID, domain.Notification{
		Type:          domain.NotificationMissedCall,
		RelatedEntity: from.String(),
		Body:          "Missed " + string(kind) + " call",
	})
	h.pushNotification(userID, n)
}

// PushNotification stores a notification for the user and delivers it
// over their live subscription. Called from the HTTP side.
func (h *Hub) PushNotification(userID uuid.UUID, n domain.Notification) domain.Notification {
	stored := h.store.Add(userID, n)
	select {
	case h.inbound <- inboundFrame{frame: stream.Frame{Op: opInternalNotify, Data: mustJSON(notifyEnvelope{UserID: userID, Notification: stored})}}:
	case <-h.done:
	}
	return stored
}

// PushReadReceipt fans a read receipt out to the user's live
// subscription so their other sessions converge. Called from the HTTP
// side.
func (h *Hub) PushReadReceipt(userID uuid.UUID, receipt domain.ReadReceiptEvent) {
	select {
	case h.inbound <- inboundFrame{frame: stream.Frame{Op: opInternalReceipt, Data: mustJSON(receiptEnvelope{UserID: userID, Receipt: receipt})}}:
	case <-h.done:
	}
}

// delivery helpers, hub goroutine only

func (h *Hub) sendCallSignal(userID uuid.UUID, msg domain.SignalingMessage) {
	h.sendCallEvent(userID, stream.CallEventSignal, msg)
}

func (h *Hub) sendCallStatus(userID uuid.UUID, ev domain.CallStatusEvent) {
	h.sendCallEvent(userID, stream.CallEventStatus, ev)
}

func (h *Hub) sendCallEvent(userID uuid.UUID, eventType string, payload any) {
	env := stream.CallEvent{Type: eventType, Data: mustJSON(payload)}
	h.deliver(userID, stream.TopicCalls, mustJSON(env))
}

func (h *Hub) pushNotification(userID uuid.UUID, n domain.Notification) {
	h.deliver(userID, stream.TopicNotifications, mustJSON(n))
}

func (h *Hub) broadcastPresence(userID uuid.UUID, online bool) {
	payload := mustJSON(domain.PresenceEvent{
		UserID:       userID,
		IsOnline:     online,
		LastActiveAt: time.Now(),
	})
	frame := stream.Frame{Op: stream.OpEvent, Topic: stream.TopicPresence, Data: payload}

	for _, c := range h.clients {
		h.sendLocal(c, stream.TopicPresence, frame)
	}
	if h.rdb != nil {
		h.publishFanout(fanoutMessage{Frame: frame})
	}
}

// deliver routes an event frame to a user on this instance, or over
// the fanout when they are connected elsewhere
func (h *Hub) deliver(userID uuid.UUID, topic string, payload json.RawMessage) {
	frame := stream.Frame{Op: stream.OpEvent, Topic: topic, Data: payload}
	if c, ok := h.clients[userID]; ok {
		h.sendLocal(c, topic, frame)
		return
	}
	if h.rdb != nil {
		target := userID
		h.publishFanout(fanoutMessage{Target: &target, Frame: frame})
		return
	}
	h.drop("recipient_offline")
}

func (h *Hub) sendLocal(c *Client, topic string, frame stream.Frame) {
	if !c.topics[topic] {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.drop("slow_client")
	}
}

func (h *Hub) recipientReachable(userID uuid.UUID) bool {
	if _, ok := h.clients[userID]; ok {
		return true
	}
	if h.rdb == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	online, err := h.presence.IsOnline(ctx, userID)
	if err != nil {
		logger.Warn("presence lookup failed", zap.Error(err))
		return false
	}
	return online
}

func (h *Hub) drop(reason string) {
	metrics.RelayFramesDroppedTotal.WithLabelValues(reason).Inc()
}

// redis fanout

func (h *Hub) publishFanout(msg fanoutMessage) {
	msg.Origin = h.instance
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.rdb.Publish(ctx, fanoutChannel, mustJSON(msg)).Err(); err != nil {
		logger.Warn("fanout publish failed", zap.Error(err))
		return
	}
	metrics.RelayFanoutPublishedTotal.Inc()
}

func (h *Hub) fanoutLoop() {
	sub := h.rdb.Subscribe(context.Background(), fanoutChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-h.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var fan fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &fan); err != nil {
				logger.Warn("malformed fanout message", zap.Error(err))
				continue
			}
			select {
			case h.outbound <- fan:
			case <-h.done:
				return
			}
		}
	}
}

func (h *Hub) deliverFanout(msg fanoutMessage) {
	if msg.Origin == h.instance {
		return
	}
	if msg.Target == nil {
		for _, c := range h.clients {
			h.sendLocal(c, msg.Frame.Topic, msg.Frame)
		}
		return
	}
	if c, ok := h.clients[*msg.Target]; ok {
		h.sendLocal(c, msg.Frame.Topic, msg.Frame)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("marshal failed", zap.Error(err))
		return json.RawMessage("{}")
	}
	return data
}
