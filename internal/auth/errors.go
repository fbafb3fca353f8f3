package auth

import "errors"

// Authentication errors
var (
	ErrWeakSecret     = errors.New("signing secret must be at least 32 bytes")
	ErrMissingSubject = errors.New("credential carries no subject")
)
