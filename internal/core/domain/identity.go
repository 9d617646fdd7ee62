package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Identity is the durable binding resolved once per request: a browser
// session, the client address, and a low-assurance device fingerprint derived
// from request headers. It is threaded explicitly through checkpoint and
// store calls rather than carried as ambient request state.
type Identity struct {
	SessionID   string
	IP          string
	Fingerprint string
	UserAgent   string
}

// Key derives the uniqueness anchor used to enforce at most one active token
// per identity binding.
func (i Identity) Key() string {
	sum := sha256.Sum256([]byte(i.Fingerprint + "|" + i.IP))
	return hex.EncodeToString(sum[:])
}

// FingerprintPolicy selects how a fingerprint mismatch against the stored
// session binding is handled.
type FingerprintPolicy string

const (
	// FingerprintInvalidate rotates the session and restarts the funnel at
	// stage zero. Deters trivial key-sharing across devices at the cost of
	// penalizing legitimate network changes.
	FingerprintInvalidate FingerprintPolicy = "invalidate"
	// FingerprintLog records the mismatch and continues.
	FingerprintLog FingerprintPolicy = "log"
)

// Valid reports whether the policy is one of the recognized values.
func (p FingerprintPolicy) Valid() bool {
	return p == FingerprintInvalidate || p == FingerprintLog
}

// SessionBinding is the short-lived association stored per session id so a
// browser session does not re-derive its identity on every call. Its TTL is
// independent of, and typically shorter than, the token TTL.
type SessionBinding struct {
	SessionID   string
	Fingerprint string
	TokenID     string
}
