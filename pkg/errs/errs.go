package errs

import "errors"

// Error kinds shared by the storage adapters, the upload session and the card
// registry. Callers match them with errors.Is; every returned error wraps
// exactly one of these.
var (
	// ErrNotFound is returned when an object, prefix or card does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with an existing uid or
	// (name, repository, version).
	ErrConflict = errors.New("conflict")
	// ErrConstraint is returned when a card references a uid that does not exist.
	ErrConstraint = errors.New("constraint violation")
	// ErrConfiguration is returned for bad or missing settings and credentials.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnsupported is returned when a backend lacks the requested capability.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrTransientIO marks network or disk failures that may succeed on retry.
	ErrTransientIO = errors.New("transient i/o failure")
	// ErrInvalidArgument is returned for malformed versions, uids and paths.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrChunkSize      = errors.New("chunk size mismatch")
	ErrSession        = errors.New("upload session error")
	ErrSessionExpired = errors.New("upload session expired")
)

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var kinds = []error{
	ErrNotFound,
	ErrConflict,
	ErrConstraint,
	ErrConfiguration,
	ErrUnsupported,
	ErrTransientIO,
	ErrInvalidArgument,
	ErrChunkSize,
	ErrSessionExpired,
	ErrSession,
}

// Kind returns the error kind err wraps, or nil when it wraps none.
func Kind(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
