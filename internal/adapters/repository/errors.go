package repository

import "errors"

// Sentinel kinds for artifact store errors.
var (
	ErrNotFound       = errors.New("artifact not found")
	ErrInvalidName    = errors.New("invalid artifact name")
	ErrChecksum       = errors.New("artifact checksum mismatch")
	ErrUnknownBackend = errors.New("unknown artifact backend")
	ErrClosed         = errors.New("artifact store closed")
)
