package llamador

import "errors"

var (
	// ErrUpstreamUnavailable means the messaging partner did not answer with
	// success; nothing was registered.
	ErrUpstreamUnavailable = errors.New("messaging partner unavailable")
	// ErrValidation means a required input field was missing.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNoActiveDisplay means no call board is connected for the target.
	ErrNoActiveDisplay = errors.New("no active display")
	// ErrDuplicateID means an appended record carried an id already in use.
	ErrDuplicateID = errors.New("duplicate record id")
)
