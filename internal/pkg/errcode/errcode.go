package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrInternal
	ErrAIUnavailable
	ErrBackendUnavailable
	ErrIngestFailed
	ErrTooMany
	ErrModelMismatch
	ErrInvalidTransition
	ErrTooLarge
)
