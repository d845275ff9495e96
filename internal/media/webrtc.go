package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callsync/internal/domain"
	apperrors "callsync/pkg/errors"
	"callsync/pkg/logger"
)

// WebRTCEngine negotiates the media path with Pion. One instance per call.
type WebRTCEngine struct {
	cfg webrtc.Configuration

	mu sync.Mutex
	pc *webrtc.PeerConnection

	onLocalCandidate   func(string)
	onRemoteTrackReady func()
	onNegotiated       func()
	onNegotiationError func(error)

	closeOnce  sync.Once
	negotiated bool
}

// NewWebRTCEngine creates an engine using the given STUN servers
func NewWebRTCEngine(stunServers []string) *WebRTCEngine {
	return &WebRTCEngine{
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		},
	}
}

// NewFactory returns a Factory producing engines with shared ICE config
func NewFactory(stunServers []string) Factory {
	return func() Engine {
		return NewWebRTCEngine(stunServers)
	}
}

// OnLocalCandidate registers the sink for locally gathered candidates
func (e *WebRTCEngine) OnLocalCandidate(fn func(string)) {
	e.mu.Lock()
	e.onLocalCandidate = fn
	e.mu.Unlock()
}

// OnRemoteTrackReady fires when the first remote track arrives
func (e *WebRTCEngine) OnRemoteTrackReady(fn func()) {
	e.mu.Lock()
	e.onRemoteTrackReady = fn
	e.mu.Unlock()
}

// OnNegotiated fires when the peer connection reaches connected
func (e *WebRTCEngine) OnNegotiated(fn func()) {
	e.mu.Lock()
	e.onNegotiated = fn
	e.mu.Unlock()
}

// OnNegotiationError fires when the peer connection fails
func (e *WebRTCEngine) OnNegotiationError(fn func(error)) {
	e.mu.Lock()
	e.onNegotiationError = fn
	e.mu.Unlock()
}

// AcquireLocalMedia builds the peer connection and adds transceivers
// matching the call kind. Fails without retaining any resources.
func (e *WebRTCEngine) AcquireLocalMedia(ctx context.Context, kind domain.CallKind) error {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return apperrors.CapabilityError("failed to create peer connection", err)
	}

	if kind == domain.CallKindAudio || kind == domain.CallKindVideo {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}); err != nil {
			pc.Close()
			return apperrors.CapabilityError("failed to add audio transceiver", err)
		}
	}
	if kind == domain.CallKindVideo || kind == domain.CallKindVideoOnly {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}); err != nil {
			pc.Close()
			return apperrors.CapabilityError("failed to add video transceiver", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Warn("failed to encode local candidate", zap.Error(err))
			return
		}
		e.mu.Lock()
		fn := e.onLocalCandidate
		e.mu.Unlock()
		if fn != nil {
			fn(string(data))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("remote track ready",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		e.mu.Lock()
		fn := e.onRemoteTrackReady
		e.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			e.mu.Lock()
			first := !e.negotiated
			e.negotiated = true
			fn := e.onNegotiated
			e.mu.Unlock()
			if first && fn != nil {
				fn()
			}
		case webrtc.PeerConnectionStateFailed:
			e.mu.Lock()
			fn := e.onNegotiationError
			e.mu.Unlock()
			if fn != nil {
				fn(fmt.Errorf("peer connection failed"))
			}
		}
	})

	e.mu.Lock()
	e.pc = pc
	e.mu.Unlock()
	return nil
}

func (e *WebRTCEngine) peer() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc == nil {
		return nil, apperrors.StateError("media session not acquired")
	}
	return e.pc, nil
}

// CreateOffer produces the local SDP offer payload
func (e *WebRTCEngine) CreateOffer(ctx context.Context) (string, error) {
	pc, err := e.peer()
	if err != nil {
		return "", err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", apperrors.CapabilityError("failed to create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", apperrors.CapabilityError("failed to set local description", err)
	}

	data, err := json.Marshal(offer)
	if err != nil {
		return "", apperrors.MalformedPayloadError(err)
	}
	return string(data), nil
}

// CreateAnswerFor consumes the remote offer and produces the answer payload
func (e *WebRTCEngine) CreateAnswerFor(ctx context.Context, offerPayload string) (string, error) {
	pc, err := e.peer()
	if err != nil {
		return "", err
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerPayload), &offer); err != nil {
		return "", apperrors.MalformedPayloadError(err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", apperrors.CapabilityError("failed to apply remote offer", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", apperrors.CapabilityError("failed to create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", apperrors.CapabilityError("failed to set local description", err)
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return "", apperrors.MalformedPayloadError(err)
	}
	return string(data), nil
}

// ApplyRemoteAnswer consumes the remote answer to our offer
func (e *WebRTCEngine) ApplyRemoteAnswer(payload string) error {
	pc, err := e.peer()
	if err != nil {
		return err
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &answer); err != nil {
		return apperrors.MalformedPayloadError(err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return apperrors.TransportError("failed to apply remote answer", err)
	}
	return nil
}

// ApplyRemoteCandidate applies one remote ICE candidate
func (e *WebRTCEngine) ApplyRemoteCandidate(payload string) error {
	pc, err := e.peer()
	if err != nil {
		return err
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		return apperrors.MalformedPayloadError(err)
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		return apperrors.TransportError("failed to add remote candidate", err)
	}
	return nil
}

// Teardown closes the peer connection. Safe to call more than once.
func (e *WebRTCEngine) Teardown() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		pc := e.pc
		e.pc = nil
		e.mu.Unlock()
		if pc != nil {
			if err := pc.Close(); err != nil {
				logger.Warn("peer connection close failed", zap.Error(err))
			}
		}
	})
}
