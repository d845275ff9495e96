// Package media is the boundary to the transport negotiation engine.
// The call state machine only sees opaque payloads and completion
// callbacks; track management and protocol details stay behind Engine.
package media

import (
	"context"

	"callsync/internal/domain"
)

// Engine is one call's media session. Implementations must tolerate
// Teardown being called more than once and from any state.
type Engine interface {
	// AcquireLocalMedia prepares local capture for the given call kind.
	// Failure is a capability error; no session resources are retained.
	AcquireLocalMedia(ctx context.Context, kind domain.CallKind) error

	// CreateOffer produces the local offer payload
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswerFor consumes a remote offer and produces the answer payload
	CreateAnswerFor(ctx context.Context, offer string) (string, error)

	// ApplyRemoteAnswer consumes the remote answer to a local offer
	ApplyRemoteAnswer(payload string) error

	// ApplyRemoteCandidate applies one remote connectivity candidate
	ApplyRemoteCandidate(payload string) error

	// OnLocalCandidate registers the sink for locally gathered candidates.
	// Must be set before AcquireLocalMedia.
	OnLocalCandidate(fn func(payload string))

	// OnRemoteTrackReady fires when remote media becomes renderable
	OnRemoteTrackReady(fn func())

	// OnNegotiated fires once the media path is established
	OnNegotiated(fn func())

	// OnNegotiationError fires when establishing the media path fails
	OnNegotiationError(fn func(err error))

	// Teardown stops local capture and releases the session. Idempotent.
	Teardown()
}

// Factory creates one Engine per call session
type Factory func() Engine
