package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrStoreUnavailable  = errors.New("record store unavailable")
)
