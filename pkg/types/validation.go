package types

import (
	"encoding/json"
	"math"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for the per-frame validation path
var playerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxFrameBytes bounds a single inbound frame
const maxFrameBytes = 4096

// IsValidPlayerID checks that an identifier is usable as a channel key.
// Identifiers are 1-64 characters, alphanumeric plus underscore/hyphen,
// which admits both UUIDs and short handles
func IsValidPlayerID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return playerIDRegex.MatchString(id)
}

// Validate rejects coordinates outside the WGS84 range or non-finite values
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lon, 0) {
		return ErrInvalidLocation
	}
	if l.Lat < -90 || l.Lat > 90 {
		return ErrInvalidLocation
	}
	if l.Lon < -180 || l.Lon > 180 {
		return ErrInvalidLocation
	}
	return nil
}

// IsInboundEvent reports whether clients may send the named event
func IsInboundEvent(event string) bool {
	switch event {
	case EventMove, EventRequestGameState:
		return true
	default:
		return false
	}
}

// Validate checks an inbound envelope before it reaches the orchestrator
func (e *Envelope) Validate() error {
	if e.Event == "" {
		return ErrMissingEvent
	}
	if !IsInboundEvent(e.Event) {
		return ErrUnknownEvent
	}
	if e.Event == EventMove && e.Choice == "" {
		return ErrMissingChoice
	}
	return nil
}

// ParseEnvelope decodes and validates a raw text frame
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
