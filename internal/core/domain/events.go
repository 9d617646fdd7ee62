package domain

import "time"

// KeyIssuedEvent captures a successful key issuance.
type KeyIssuedEvent struct {
	EventID   string
	TokenID   string
	IP        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// KeyRevokedEvent captures an administrative revocation.
type KeyRevokedEvent struct {
	EventID   string
	TokenID   string
	Reason    string
	RevokedAt time.Time
}

// SweepCompletedEvent summarizes one sweeper pass.
type SweepCompletedEvent struct {
	EventID         string
	TokensDeleted   int
	SessionsDropped int
	CompletedAt     time.Time
}
