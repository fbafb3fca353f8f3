package router

import "errors"

// Router-specific error types
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNilConnection     = errors.New("connection cannot be nil")
)
