package call

import (
	"encoding/json"

	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/internal/stream"
	"callsync/pkg/logger"
	"callsync/pkg/metrics"
)

// Dispatcher decodes events from the calls topic and routes them into
// the machine. Malformed payloads and signals for unknown kinds are
// dropped with a metric; they never crash the event loop.
type Dispatcher struct {
	machine *Machine
}

func NewDispatcher(m *Machine) *Dispatcher {
	return &Dispatcher{machine: m}
}

// Run consumes the calls topic until the channel closes
func (d *Dispatcher) Run(events <-chan stream.Event) {
	for ev := range events {
		d.Dispatch(ev)
	}
}

// Dispatch routes one raw event from the calls topic
func (d *Dispatcher) Dispatch(ev stream.Event) {
	var env stream.CallEvent
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		d.dropMalformed("envelope", err)
		return
	}

	switch env.Type {
	case stream.CallEventIncoming:
		var incoming domain.IncomingCallEvent
		if err := json.Unmarshal(env.Data, &incoming); err != nil {
			d.dropMalformed(env.Type, err)
			return
		}
		d.machine.HandleIncomingOffer(incoming)

	case stream.CallEventSignal:
		var sig domain.SignalingMessage
		if err := json.Unmarshal(env.Data, &sig); err != nil {
			d.dropMalformed(env.Type, err)
			return
		}
		d.dispatchSignal(sig)

	case stream.CallEventStatus:
		var status domain.CallStatusEvent
		if err := json.Unmarshal(env.Data, &status); err != nil {
			d.dropMalformed(env.Type, err)
			return
		}
		d.machine.HandleStatusEvent(status)

	case stream.CallEventMediaToggle:
		var toggle domain.ToggleMediaRequest
		if err := json.Unmarshal(env.Data, &toggle); err != nil {
			d.dropMalformed(env.Type, err)
			return
		}
		d.machine.HandleRemoteToggle(toggle.CallID, toggle.VideoEnabled, toggle.AudioEnabled)

	default:
		logger.Debug("dropping call event of unknown type",
			zap.String("type", env.Type))
		metrics.SignalsDroppedTotal.WithLabelValues("unknown_kind").Inc()
	}
}

func (d *Dispatcher) dispatchSignal(sig domain.SignalingMessage) {
	switch sig.Kind {
	case domain.SignalAnswer:
		d.machine.HandleRemoteAnswer(sig.CallID, sig.Payload)
	case domain.SignalCandidate:
		d.machine.HandleCandidate(sig.CallID, sig.Payload)
	case domain.SignalEnd:
		d.machine.HandleRemoteEnd(sig.CallID)
	case domain.SignalReject:
		d.machine.HandleRemoteReject(sig.CallID)
	case domain.SignalOffer:
		// Offers arrive as incoming_call events with caller metadata;
		// a bare offer signal has nothing to attach to.
		logger.Debug("dropping bare offer signal",
			zap.String("call_id", sig.CallID.String()))
		metrics.SignalsDroppedTotal.WithLabelValues("unknown_kind").Inc()
	default:
		logger.Debug("dropping signal of unknown kind",
			zap.String("kind", string(sig.Kind)))
		metrics.SignalsDroppedTotal.WithLabelValues("unknown_kind").Inc()
	}
}

func (d *Dispatcher) dropMalformed(what string, err error) {
	logger.Warn("dropping malformed call event",
		zap.String("type", what),
		zap.Error(err))
	metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
}
