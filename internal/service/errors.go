package service

import "errors"

// Error taxonomy shared by every service. Handlers map these to status codes;
// anything else is an internal error.
var (
	ErrInvalidSessionKey  = errors.New("invalid session key")
	ErrEmptyBody          = errors.New("body must not be empty")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrLogUnavailable     = errors.New("durable log not configured")
)
