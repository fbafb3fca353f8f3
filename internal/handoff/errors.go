package handoff

import "errors"

// Handoff errors surfaced to HTTP callers
var (
	ErrMissingCredential = errors.New("credential is required")
	ErrSessionIDGenerate = errors.New("failed to generate session id")
)
