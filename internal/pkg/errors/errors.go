package errors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal")
	ErrConfig             = errors.New("config error")
	ErrTransient          = errors.New("transient provider error")
	ErrIngestionFailure   = errors.New("ingestion failure")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrModelMismatch      = errors.New("embedding model mismatch")
	ErrBackendUnavailable = errors.New("vector backend unavailable")
	ErrInvalidTransition  = errors.New("invalid run status transition")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
