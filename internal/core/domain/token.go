package domain

import "time"

// Stage tracks linear checkpoint progress for a token. StageNone means no
// checkpoint has been passed; StageFinal means every ad checkpoint is complete
// and the access key may be issued.
type Stage int

const (
	StageNone  Stage = 0
	StageFinal Stage = 3
)

// CheckpointCount is the number of mandatory ad checkpoints in the funnel.
const CheckpointCount = 3

// Valid reports whether the stage lies inside the funnel domain.
func (s Stage) Valid() bool {
	return s >= StageNone && s <= StageFinal
}

// TokenStatus captures the explicit lifecycle state of a token. Expiry is
// derived from ExpiresAt rather than stored.
type TokenStatus string

const (
	StatusActive  TokenStatus = "active"
	StatusRevoked TokenStatus = "revoked"
)

// Token represents a visitor's progress record through the checkpoint funnel
// and, once issued, the access key handed to the downstream client.
type Token struct {
	ID             string
	KeyValue       *string
	IdentityKey    string
	SessionID      string
	IP             string
	Fingerprint    string
	UserAgent      string
	Stage          Stage
	Status         TokenStatus
	CreatedAt      time.Time
	ExpiresAt      time.Time
	IssuedAt       *time.Time
	LastAccessedAt time.Time
	RevokedAt      *time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t Token) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t Token) IsRevoked() bool {
	return t.Status == StatusRevoked || t.RevokedAt != nil
}

// IsActive returns true when the token can still participate in the funnel.
func (t Token) IsActive(at time.Time) bool {
	if t.IsRevoked() {
		return false
	}
	return !t.IsExpired(at)
}

// Issued reports whether an access key has been generated for this token.
func (t Token) Issued() bool {
	return t.KeyValue != nil && *t.KeyValue != ""
}

// NextStage returns the next checkpoint the visitor must complete, clamped at
// the final stage.
func (t Token) NextStage() Stage {
	if t.Stage >= StageFinal {
		return StageFinal
	}
	return t.Stage + 1
}

// CanAdvanceTo reports whether a transition to the target stage is a legal
// single-step advance.
func (t Token) CanAdvanceTo(target Stage) bool {
	return target.Valid() && target == t.Stage+1
}

// RemainingTTL returns how long the token stays valid from the supplied
// moment, floored at zero.
func (t Token) RemainingTTL(at time.Time) time.Duration {
	remaining := t.ExpiresAt.Sub(at)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Revoke marks the token as revoked. Returns true when the state changed.
func (t *Token) Revoke(at time.Time) bool {
	if t.IsRevoked() {
		return false
	}
	timeCopy := at
	t.Status = StatusRevoked
	t.RevokedAt = &timeCopy
	return true
}

// Touch updates the last-accessed timestamp used for analytics.
func (t *Token) Touch(at time.Time) {
	t.LastAccessedAt = at
}

// ExpiredToken is the minimal view of a swept record, carried so the caller
// can drop the associated session binding.
type ExpiredToken struct {
	ID        string
	SessionID string
}

// TokenStats aggregates counts for the stats endpoint and the periodic
// notifier push.
type TokenStats struct {
	Total     int64
	Active    int64
	Completed int64
	Expired   int64
}
