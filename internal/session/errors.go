package session

import "errors"

// ErrNilConnection is returned when the orchestrator is handed a nil connection
var ErrNilConnection = errors.New("connection cannot be nil")
