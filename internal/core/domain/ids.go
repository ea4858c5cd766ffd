package domain

import "strings"

type ClientID string
type RoomID string
type ProductID string
type BroadcastID string

// SellerMarker is the substring that marks client identifiers belonging to
// broadcasting sellers. The signaling server infers the publisher role from it
// on join.
const SellerMarker = "seller"

// IsSeller reports whether the client identifier denotes a broadcasting seller.
func (id ClientID) IsSeller() bool {
	return strings.Contains(string(id), SellerMarker)
}

// ConnectionState is the lifecycle state of a signaling connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosing      ConnectionState = "closing"
)

// Role describes which side of a media session a party plays.
// A responder owns local media and offers it into the session; an
// initiator requests and receives media without contributing its own.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// RelayRole is the declared role toward the relay server.
type RelayRole string

const (
	RelayPublisher  RelayRole = "publisher"
	RelaySubscriber RelayRole = "subscriber"
)
