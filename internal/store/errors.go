package store

import "errors"

var (
	// ErrNotFound means the entity addressed by an update or delete does not
	// exist. Lookups never return it; an absent entity is a nil result.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict means a uniqueness invariant was violated on create or bind.
	ErrConflict = errors.New("uniqueness conflict")

	// ErrConcurrency means the supplied ConcurrencyStamp no longer matches the
	// stored one. The stored state is left unchanged.
	ErrConcurrency = errors.New("concurrency stamp mismatch")

	// ErrUnsupported means the backend does not implement the capability
	// behind the invoked operation.
	ErrUnsupported = errors.New("capability not supported")

	// ErrUnavailable wraps transient backend I/O failures. The store never
	// retries; the caller owns retry policy.
	ErrUnavailable = errors.New("backend unavailable")
)
