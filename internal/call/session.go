package call

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"callsync/internal/domain"
	"callsync/internal/media"
)

// Snapshot is the observable view of the active (or last) call session,
// published to subscribers on every state change and duration tick.
type Snapshot struct {
	CallID             uuid.UUID          `json:"call_id"`
	Status             domain.CallStatus  `json:"status"`
	Kind               domain.CallKind    `json:"kind"`
	Peer               domain.Participant `json:"peer"`
	Outgoing           bool               `json:"outgoing"`
	StartedAt          time.Time          `json:"started_at"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds    int                `json:"duration_seconds"`
	Elapsed            string             `json:"elapsed"`
	AudioEnabled       bool               `json:"audio_enabled"`
	VideoEnabled       bool               `json:"video_enabled"`
	RemoteAudioEnabled bool               `json:"remote_audio_enabled"`
	RemoteVideoEnabled bool               `json:"remote_video_enabled"`
	RemoteMediaReady   bool               `json:"remote_media_ready"`
	ConversationID     *uuid.UUID         `json:"conversation_id,omitempty"`
}

// session is the loop-owned state for one call. Only the machine's run
// goroutine touches it.
type session struct {
	id       uuid.UUID
	kind     domain.CallKind
	peer     domain.Participant
	outgoing bool
	convID   *uuid.UUID

	status      domain.CallStatus
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	engine      media.Engine
	engineReady bool
	toreDown    bool

	// incoming side
	offer       string
	accepting   bool
	acceptReply chan error

	// candidates received before the engine was ready, in arrival order
	candidateQueue []string

	audioEnabled       bool
	videoEnabled       bool
	remoteAudioEnabled bool
	remoteVideoEnabled bool
	remoteMediaReady   bool

	ringTimer *time.Timer
	tickStop  chan struct{}
}

func newSession(id uuid.UUID, kind domain.CallKind, peer domain.Participant, outgoing bool, convID *uuid.UUID) *session {
	return &session{
		id:                 id,
		kind:               kind,
		peer:               peer,
		outgoing:           outgoing,
		convID:             convID,
		status:             domain.CallStatusRinging,
		startedAt:          time.Now(),
		audioEnabled:       kind != domain.CallKindVideoOnly,
		videoEnabled:       kind != domain.CallKindAudio,
		remoteAudioEnabled: kind != domain.CallKindVideoOnly,
		remoteVideoEnabled: kind != domain.CallKindAudio,
	}
}

func (s *session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *session) stopTicker() {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
}

// durationSeconds is only meaningful once the call connected
func (s *session) durationSeconds(now time.Time) int {
	if s.connectedAt.IsZero() {
		return 0
	}
	end := now
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	d := int(end.Sub(s.connectedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

func (s *session) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		CallID:             s.id,
		Status:             s.status,
		Kind:               s.kind,
		Peer:               s.peer,
		Outgoing:           s.outgoing,
		StartedAt:          s.startedAt,
		AudioEnabled:       s.audioEnabled,
		VideoEnabled:       s.videoEnabled,
		RemoteAudioEnabled: s.remoteAudioEnabled,
		RemoteVideoEnabled: s.remoteVideoEnabled,
		RemoteMediaReady:   s.remoteMediaReady,
		ConversationID:     s.convID,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	if !s.connectedAt.IsZero() {
		snap.DurationSeconds = s.durationSeconds(now)
		snap.Elapsed = formatElapsed(snap.DurationSeconds)
	}
	return snap
}

func formatElapsed(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
