package domain

import "time"

// SessionEventKind enumerates the notifications a media session emits.
type SessionEventKind string

const (
	SessionRemoteTrack SessionEventKind = "remote_track"
	SessionConnected   SessionEventKind = "connected"
	SessionClosed      SessionEventKind = "closed"
	SessionFailed      SessionEventKind = "failed"
	SessionEnded       SessionEventKind = "ended"
)

// SessionEvent is delivered to registered observers of the negotiator and
// the relay client. Err is set only for SessionFailed.
type SessionEvent struct {
	Kind SessionEventKind
	Key  ClientID
	Err  error
}

// SessionInfo is a read-only snapshot of one active media session, used by
// the control plane.
type SessionInfo struct {
	Key            ClientID  `json:"key"`
	Role           Role      `json:"role"`
	SignalingState string    `json:"signaling_state"`
	Connected      bool      `json:"connected"`
	CandidateErrs  int       `json:"candidate_errors"`
	CreatedAt      time.Time `json:"created_at"`
}
