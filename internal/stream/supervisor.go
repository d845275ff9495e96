package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"callsync/pkg/logger"
	"callsync/pkg/metrics"
)

// Event is one unit delivered on a push-event subscription
type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscriber is the subscription half of the event-stream transport capability
type Subscriber interface {
	// Subscribe opens a long-lived stream of events for topic. The returned
	// channel closes when the stream drops; callers resubscribe to recover.
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
}

// HandleState is the supervision state of one subscription
type HandleState string

const (
	HandleActive    HandleState = "active"
	HandleRetrying  HandleState = "retrying"
	HandleExhausted HandleState = "exhausted"
)

// Handle wraps one supervised subscription
type Handle struct {
	topic string

	mu       sync.Mutex
	state    HandleState
	attempts int
	canceled bool
	cancel   context.CancelFunc
}

// Topic returns the subscribed topic
func (h *Handle) Topic() string { return h.topic }

// State returns the current supervision state
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Attempts returns the number of consecutive failures so far
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Cancel unsubscribes and releases resources. Safe to call twice.
func (h *Handle) Cancel() {
	h.mu.Lock()
	already := h.canceled
	h.canceled = true
	cancel := h.cancel
	h.mu.Unlock()
	if already || cancel == nil {
		return
	}
	cancel()
}

func (h *Handle) setState(s HandleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) resetAttempts() {
	h.mu.Lock()
	h.attempts = 0
	h.mu.Unlock()
}

func (h *Handle) failure() int {
	h.mu.Lock()
	h.attempts++
	n := h.attempts
	h.mu.Unlock()
	return n
}

func (h *Handle) isCanceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// Config controls supervision behavior
type Config struct {
	// BaseDelay is the flat delay between retry attempts
	BaseDelay time.Duration
	// MaxAttempts is the number of consecutive failures tolerated before
	// the handle becomes exhausted
	MaxAttempts int
	// OnLost fires once when a subscription exhausts its attempts
	OnLost func(topic string)
}

// Supervisor wraps push-event subscriptions with bounded automatic retry.
// Errors from the underlying transport are never propagated to handlers;
// the supervisor logs, waits, and resubscribes up to MaxAttempts times.
type Supervisor struct {
	sub Subscriber
	cfg Config
}

// NewSupervisor creates a supervisor over the given transport
func NewSupervisor(sub Subscriber, cfg Config) *Supervisor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Supervisor{sub: sub, cfg: cfg}
}

// Supervise subscribes to topic and keeps the subscription alive across
// transient failures, delivering every event to handler in arrival order.
func (s *Supervisor) Supervise(topic string, handler func(Event)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{topic: topic, state: HandleActive, cancel: cancel}
	metrics.SubscriptionsActive.Inc()
	go s.run(ctx, h, handler)
	return h
}

// Resupervise restarts a handle that exhausted its attempts. It is a no-op
// unless the handle is exhausted.
func (s *Supervisor) Resupervise(h *Handle, handler func(Event)) {
	h.mu.Lock()
	if h.state != HandleExhausted || h.canceled {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.state = HandleActive
	h.attempts = 0
	h.cancel = cancel
	h.mu.Unlock()

	metrics.SubscriptionsActive.Inc()
	go s.run(ctx, h, handler)
}

func (s *Supervisor) run(ctx context.Context, h *Handle, handler func(Event)) {
	defer metrics.SubscriptionsActive.Dec()

	for {
		ch, err := s.sub.Subscribe(ctx, h.topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("subscription failed",
				zap.String("topic", h.topic),
				zap.Error(err))
			if !s.backoff(ctx, h) {
				return
			}
			continue
		}

		h.setState(HandleActive)

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					// Mid-stream drop; treated like a subscribe failure.
					break stream
				}
				h.resetAttempts()
				metrics.EventsDeliveredTotal.WithLabelValues(h.topic).Inc()
				handler(ev)
			}
		}

		if ctx.Err() != nil {
			return
		}
		logger.Warn("subscription stream dropped", zap.String("topic", h.topic))
		if !s.backoff(ctx, h) {
			return
		}
	}
}

// backoff records one failure and waits before the next attempt. It returns
// false when supervision should stop (exhausted or canceled).
func (s *Supervisor) backoff(ctx context.Context, h *Handle) bool {
	attempts := h.failure()
	if attempts >= s.cfg.MaxAttempts {
		h.setState(HandleExhausted)
		metrics.SubscriptionsExhaustedTotal.WithLabelValues(h.topic).Inc()
		logger.Error("subscription exhausted, giving up",
			zap.String("topic", h.topic),
			zap.Int("attempts", attempts))
		if s.cfg.OnLost != nil && !h.isCanceled() {
			s.cfg.OnLost(h.topic)
		}
		return false
	}

	h.setState(HandleRetrying)
	metrics.SubscriptionRetriesTotal.WithLabelValues(h.topic).Inc()
	logger.Info("retrying subscription",
		zap.String("topic", h.topic),
		zap.Int("attempt", attempts),
		zap.Duration("delay", s.cfg.BaseDelay))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.BaseDelay):
		return true
	}
}
