package call

import (
	"context"

	"github.com/google/uuid"

	"callsync/internal/domain"
)

// Transport is the outbound half of the signaling channel. The websocket
// transport implements it; tests substitute mocks.
type Transport interface {
	InitiateCall(ctx context.Context, req domain.InitiateCallRequest) error
	SendSignal(ctx context.Context, msg domain.SignalingMessage) error
	AcceptCall(ctx context.Context, callID uuid.UUID, answer string) error
	RejectCall(ctx context.Context, callID uuid.UUID, reason string) error
	EndCall(ctx context.Context, callID uuid.UUID, feedback string) error
	ToggleMedia(ctx context.Context, req domain.ToggleMediaRequest) error
}
