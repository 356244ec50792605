package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrScanInProgress         = errors.New("scan already in progress for server")
	ErrInvalidInput           = errors.New("invalid input")
	ErrCredentialsKeyMismatch = errors.New("remote server credentials were encrypted with a different key")
)
