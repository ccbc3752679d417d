package diagrams

import "errors"

var (
	// ErrNotFound indicates the diagram does not exist for that user.
	ErrNotFound = errors.New("diagram not found")

	// ErrQuotaExceeded indicates the user already holds the maximum number
	// of non-deleted diagrams.
	ErrQuotaExceeded = errors.New("diagram quota exceeded")

	// ErrSpecTooLarge indicates the serialized spec exceeds the configured
	// size limit.
	ErrSpecTooLarge = errors.New("diagram spec too large")

	// ErrInvalidInput indicates a missing or malformed caller-supplied field.
	ErrInvalidInput = errors.New("invalid diagram input")
)
