package pairing

import "errors"

// Codec errors. Callers must not distinguish ErrMalformed from ErrTampered
// in anything a client can observe.
var (
	ErrInvalidScheme = errors.New("token does not carry the peer scheme tag")
	ErrMalformed     = errors.New("token is structurally malformed")
	ErrTampered      = errors.New("token failed authentication")
	ErrInvalidKey    = errors.New("pairing secret must be 32 bytes")
)
