package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrMissingKey        = errors.New("notification key is required")
	ErrNotifyChannelFull = errors.New("notification channel is full")
)
