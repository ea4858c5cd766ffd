package domain

import "encoding/json"

// SignalMessage is the JSON envelope exchanged over the signaling channel.
// Directed negotiation messages (offer/answer/candidate) always carry both
// From and To so the receiver can route them to the correct session.
type SignalMessage struct {
	Type     string          `json:"type"`
	Room     RoomID          `json:"room,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	From     ClientID        `json:"from,omitempty"`
	To       ClientID        `json:"to,omitempty"`
	ClientID ClientID        `json:"client_id,omitempty"`
}

// Signaling message vocabulary. Inbound types outside this set are ignored.
const (
	MsgJoin            = "join"
	MsgJoined          = "joined"
	MsgChat            = "chat"
	MsgReaction        = "reaction"
	MsgProductPinned   = "product_pinned"
	MsgProductUnpinned = "product_unpinned"
	MsgSellerLive      = "seller_live"
	MsgSellerOffline   = "seller_offline"
	MsgOffer           = "webrtc_offer"
	MsgAnswer          = "webrtc_answer"
	MsgICECandidate    = "webrtc_ice_candidate"
	MsgUserJoined      = "user_joined"
	MsgUserLeft        = "user_left"
	MsgConnected       = "connected"
	MsgDisconnected    = "disconnected"
	MsgError           = "error"

	// MsgReconnectionFailed is emitted locally when the reconnect budget is
	// exhausted. It never travels over the wire.
	MsgReconnectionFailed = "reconnection_failed"
)

type JoinPayload struct {
	ClientID ClientID `json:"client_id"`
	Role     string   `json:"role"`
}

// SDPPayload carries an offer or answer body.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

type ChatPayload struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type ReactionPayload struct {
	Reaction string `json:"reaction"`
	Username string `json:"username"`
}

type PresencePayload struct {
	ClientID ClientID `json:"client_id"`
	Viewers  int      `json:"viewers,omitempty"`
}

type SellerStatusPayload struct {
	SellerID string `json:"seller_id"`
	Status   string `json:"status"`
}

type PinPayload struct {
	ProductID ProductID `json:"product_id"`
	SellerID  string    `json:"seller_id"`
}

// DisconnectPayload mirrors the close code of the underlying transport for
// the locally emitted disconnected event.
type DisconnectPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Relay envelope and vocabulary. The relay path speaks a distinct, smaller
// dialect over its own transport.
type RelayMessage struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Room     RoomID          `json:"room,omitempty"`
	Role     RelayRole       `json:"role,omitempty"`
	ClientID ClientID        `json:"client_id,omitempty"`
	From     string          `json:"from,omitempty"`
}

const (
	RelayMsgJoin   = "join"
	RelayMsgJoined = "joined"
	RelayMsgOffer  = "offer"
	RelayMsgAnswer = "answer"
	// Both spellings are accepted inbound; ice-candidate is sent outbound.
	RelayMsgICE          = "ice"
	RelayMsgICECandidate = "ice-candidate"
)
