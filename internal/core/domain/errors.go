package domain

import "errors"

var (
	ErrNotConnected       = errors.New("signaling transport is not connected")
	ErrConnectInProgress  = errors.New("connection attempt already in progress")
	ErrMissingIdentity    = errors.New("client id and room id are required")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session already closed")
	ErrNoLocalMedia    = errors.New("no local media attached")
	ErrIllegalState    = errors.New("negotiation state does not permit this message")

	ErrRelayJoinTimeout = errors.New("relay join confirmation timed out")

	ErrMediaPermission = errors.New("media source access denied")
	ErrMediaBusy       = errors.New("media source is already in use")
	ErrNoMediaDevice   = errors.New("no media source found")
)
