package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrMissingChannelKey = errors.New("connection must carry a channel key")
	ErrChannelFull       = errors.New("channel already has two connections")
	ErrNoRecipient       = errors.New("no live connection for recipient")
)

// Handler-related errors
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrIdentityMismatch  = errors.New("credential does not match requested channel")
)
