package types

import "errors"

// ARCHITECTURAL DISCOVERY: Boundary validation errors are protocol errors;
// callers log and drop, they never tear the connection down
var (
	ErrInvalidPlayerID   = errors.New("player ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidLocation   = errors.New("location must have finite lat in [-90,90] and lon in [-180,180]")
	ErrMissingEvent      = errors.New("envelope is missing the event field")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrMissingChoice     = errors.New("move event is missing a choice")
	ErrMalformedEnvelope = errors.New("malformed event envelope")
	ErrFrameTooLarge     = errors.New("frame exceeds 4KB limit")
)
