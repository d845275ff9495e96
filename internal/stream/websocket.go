package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callsync/internal/domain"
	apperrors "callsync/pkg/errors"
	"callsync/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// WSTransport is the websocket implementation of the event-stream
// transport capability: topic subscriptions plus the outbound call
// operations, multiplexed over one relay connection.
type WSTransport struct {
	url    string
	selfID uuid.UUID

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[string][]chan Event

	closed bool
	done   chan struct{}
}

// NewWSTransport creates a transport that dials url on first use.
// selfID identifies this client to the relay.
func NewWSTransport(url string, selfID uuid.UUID) *WSTransport {
	return &WSTransport{
		url:    url,
		selfID: selfID,
		subs:   make(map[string][]chan Event),
		done:   make(chan struct{}),
	}
}

// ensureConnected dials the relay if no connection is up. Callers hold no lock.
func (t *WSTransport) ensureConnected(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return apperrors.NotConnectedError()
	}
	if t.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return apperrors.TransportError("relay dial failed", err)
	}

	hello, _ := json.Marshal(map[string]string{"user_id": t.selfID.String()})
	if err := writeFrame(conn, Frame{Op: OpHello, Data: hello}); err != nil {
		conn.Close()
		return apperrors.TransportError("hello failed", err)
	}

	t.conn = conn
	t.connected = true

	go t.readLoop(conn)
	go t.pingLoop(conn)

	logger.Info("connected to relay", zap.String("url", t.url))
	return nil
}

// Subscribe opens a stream of events for topic, dialing the relay if needed.
// The returned channel closes when the connection drops.
func (t *WSTransport) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	sub, _ := json.Marshal(map[string]string{"topic": topic})
	ch := make(chan Event, 64)

	// The frame write and the registration share one critical section;
	// a drop between the two would strand the channel unclosed.
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.conn == nil {
		return nil, apperrors.NotConnectedError()
	}
	if err := writeFrame(t.conn, Frame{Op: OpSubscribe, Data: sub}); err != nil {
		return nil, apperrors.SendFailedError(err)
	}
	t.subs[topic] = append(t.subs[topic], ch)
	return ch, nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.dropConnection(conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("relay connection lost", zap.Error(err))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Warn("malformed frame from relay", zap.Error(err))
			continue
		}
		if f.Op != OpEvent {
			continue
		}

		ev := Event{Topic: f.Topic, Payload: f.Data, Timestamp: time.Now()}
		t.mu.Lock()
		targets := t.subs[f.Topic]
		for _, ch := range targets {
			select {
			case ch <- ev:
			default:
				logger.Warn("subscriber channel full, dropping event",
					zap.String("topic", f.Topic))
			}
		}
		t.mu.Unlock()
	}
}

func (t *WSTransport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.conn != conn {
				t.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dropConnection tears down one connection and closes all subscriber
// channels so supervisors notice and resubscribe.
func (t *WSTransport) dropConnection(conn *websocket.Conn) {
	conn.Close()

	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.connected = false
	subs := t.subs
	t.subs = make(map[string][]chan Event)
	t.mu.Unlock()

	for _, chans := range subs {
		for _, ch := range chans {
			close(ch)
		}
	}
}

// Close shuts the transport down permanently
func (t *WSTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	close(t.done)
	if conn != nil {
		t.dropConnection(conn)
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (t *WSTransport) write(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.conn == nil {
		return apperrors.NotConnectedError()
	}
	if err := writeFrame(t.conn, f); err != nil {
		return apperrors.SendFailedError(err)
	}
	return nil
}

func (t *WSTransport) send(ctx context.Context, op string, payload any) error {
	if err := t.ensureConnected(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.MalformedPayloadError(err)
	}
	return t.write(Frame{Op: op, Data: data})
}

// Outbound call operations.

// InitiateCall sends a call offer toward a recipient
func (t *WSTransport) InitiateCall(ctx context.Context, req domain.InitiateCallRequest) error {
	return t.send(ctx, OpInitiate, req)
}

// SendSignal relays one signaling message to the call peer
func (t *WSTransport) SendSignal(ctx context.Context, msg domain.SignalingMessage) error {
	if msg.SenderID == uuid.Nil {
		msg.SenderID = t.selfID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return t.send(ctx, OpSignal, msg)
}

// AcceptCall answers an incoming call
func (t *WSTransport) AcceptCall(ctx context.Context, callID uuid.UUID, answer string) error {
	return t.send(ctx, OpAccept, domain.AcceptCallRequest{CallID: callID, Answer: answer})
}

// RejectCall declines an incoming call
func (t *WSTransport) RejectCall(ctx context.Context, callID uuid.UUID, reason string) error {
	return t.send(ctx, OpReject, domain.RejectCallRequest{CallID: callID, Reason: reason})
}

// EndCall hangs up
func (t *WSTransport) EndCall(ctx context.Context, callID uuid.UUID, feedback string) error {
	return t.send(ctx, OpEnd, domain.EndCallRequest{CallID: callID, Feedback: feedback})
}

// ToggleMedia reports local track enable/disable to the far end
func (t *WSTransport) ToggleMedia(ctx context.Context, req domain.ToggleMediaRequest) error {
	return t.send(ctx, OpToggleMedia, req)
}
