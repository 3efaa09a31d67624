package apperrors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrCursorExpired = errors.New("change cursor expired")
	ErrFileTooLarge  = errors.New("file exceeds size limit")
	ErrShuttingDown  = errors.New("shutting down")
)
