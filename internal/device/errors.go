package device

import "errors"

// Domain-specific errors for device operations.
var (
	// ErrPlatformQuery is returned when the host cannot be queried while
	// generating an identity.
	ErrPlatformQuery = errors.New("device: platform query failed")

	// ErrNoIdentity is returned when an operation needs the local identity
	// before EnsureIdentity has run.
	ErrNoIdentity = errors.New("device: identity not initialised")

	// ErrInvalidTable is returned when a stored device table cannot be decoded.
	ErrInvalidTable = errors.New("device: invalid device table")
)
