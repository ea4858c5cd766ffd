package ports

import (
	"context"

	"streamcart/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// MessageHandler consumes one inbound signaling message.
type MessageHandler func(msg *domain.SignalMessage)

// HandlerID identifies a registered handler for removal.
type HandlerID int

// SessionEventHandler consumes session lifecycle notifications.
type SessionEventHandler func(ev domain.SessionEvent)

// SignalingChannel is one logical connection to the signaling server,
// scoped to a client id and room id.
type SignalingChannel interface {
	Connect(ctx context.Context, clientID domain.ClientID, roomID domain.RoomID) error
	Send(msg *domain.SignalMessage) error
	On(msgType string, h MessageHandler) HandlerID
	Off(msgType string, id HandlerID)
	Disconnect()
	State() domain.ConnectionState
	Identity() (domain.ClientID, domain.RoomID)
}

// MediaSource owns the local capture handle. Its tracks are shared
// read-only across all responder sessions; Stop affects every session and
// must only happen on explicit broadcast end.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// FrameGrabber yields the most recent local video frame as an encoded JPEG.
type FrameGrabber interface {
	Frame(ctx context.Context) ([]byte, error)
}

// PeerSessionService negotiates direct peer-to-peer media sessions, one per
// remote party, and owns the session registry.
type PeerSessionService interface {
	// AttachMedia hands the local media handle over explicitly. Responder
	// sessions attach its tracks at construction time.
	AttachMedia(src MediaSource)
	CreateSession(ctx context.Context, initiator bool, remote domain.ClientID) error
	AcceptOffer(ctx context.Context, from domain.ClientID, offer domain.SDPPayload) error
	ApplyAnswer(from domain.ClientID, answer domain.SDPPayload) error
	ApplyCandidate(from domain.ClientID, cand domain.CandidatePayload) error
	CloseSession(key domain.ClientID)
	Destroy()
	Notify(h SessionEventHandler) (unsubscribe func())
	Sessions() []domain.SessionInfo
}

// RelayService negotiates a single media session routed through the central
// relay instead of direct peer links.
type RelayService interface {
	AttachMedia(src MediaSource)
	Connect(ctx context.Context, room domain.RoomID, role domain.RelayRole) error
	Notify(h SessionEventHandler) (unsubscribe func())
	Disconnect()
}
