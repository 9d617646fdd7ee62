package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrStaleTransition signals a conditional stage update matched zero
	// rows: the record moved on (or expired) between read and write.
	ErrStaleTransition = errors.New("repository: stale transition")
	// ErrAlreadyIssued signals that a key value is already persisted for the
	// token; the stored value is authoritative.
	ErrAlreadyIssued = errors.New("repository: key already issued")
)
