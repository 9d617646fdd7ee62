package usecase

import "errors"

var (
	// ErrTokenNotFound indicates no token record exists for the reference.
	ErrTokenNotFound = errors.New("token not found")
	// ErrKeyNotFound indicates no token carries the presented key value.
	ErrKeyNotFound = errors.New("key not found")
	// ErrExpired indicates the token elapsed its validity window.
	ErrExpired = errors.New("token expired")
	// ErrKeyRevoked indicates the key was administratively withdrawn.
	ErrKeyRevoked = errors.New("key revoked")
	// ErrInvalidTransition indicates a stage move that is not the single legal
	// forward step from stored progress.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrStageIncomplete indicates key issuance was requested before the final
	// checkpoint completed.
	ErrStageIncomplete = errors.New("checkpoints incomplete")
	// ErrInvalidReturn indicates checkpoint completion lacked acceptable
	// return evidence.
	ErrInvalidReturn = errors.New("invalid checkpoint return")
	// ErrExtensionDisabled indicates expiry extension is not enabled.
	ErrExtensionDisabled = errors.New("key extension disabled")
	// ErrFingerprintMismatch indicates the request fingerprint diverged from
	// the stored session binding.
	ErrFingerprintMismatch = errors.New("session fingerprint mismatch")
	// ErrMaintenance indicates the funnel is administratively paused.
	ErrMaintenance = errors.New("maintenance mode")
)
