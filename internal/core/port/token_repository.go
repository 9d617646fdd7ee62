package port

import (
	"context"
	"time"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

// TokenRepository is the narrow contract every mutation of token state goes
// through. No other component touches token fields directly.
type TokenRepository interface {
	// CreateOrGetActive returns the active token bound to the identity,
	// creating one at stage zero when none exists. Safe under concurrent
	// calls for the same identity: the backing store enforces at most one
	// active record per identity key, and callers insert-then-refetch on
	// conflict.
	CreateOrGetActive(ctx context.Context, identity domain.Identity, ttl time.Duration) (*domain.Token, error)

	GetByID(ctx context.Context, tokenID string) (*domain.Token, error)
	GetByKeyValue(ctx context.Context, keyValue string) (*domain.Token, error)

	// AdvanceStage persists a single-step stage increment. The update is
	// conditional on the current stage so concurrent completions resolve to
	// exactly one successful advance; a no-op update returns
	// repository.ErrStaleTransition for the caller to classify by refetch.
	AdvanceStage(ctx context.Context, tokenID string, target domain.Stage, at time.Time) (*domain.Token, error)

	// IssueKey persists the generated key value. Idempotent: when a key was
	// already issued the stored value wins and is returned unchanged.
	IssueKey(ctx context.Context, tokenID, keyValue string, at time.Time) (*domain.Token, error)

	TouchLastAccessed(ctx context.Context, tokenID string, at time.Time) error
	Revoke(ctx context.Context, tokenID string, at time.Time) error
	Delete(ctx context.Context, tokenID string) error

	// ResetStage is the explicit administrative reset, the only path that
	// moves a stage backward.
	ResetStage(ctx context.Context, tokenID string) (*domain.Token, error)

	// ExtendExpiry pushes the expiry forward by the supplied TTL from now.
	ExtendExpiry(ctx context.Context, tokenID string, ttl time.Duration, at time.Time) (*domain.Token, error)

	// DeleteExpired removes every record past its expiry and returns the
	// minimal views needed to drop session bindings.
	DeleteExpired(ctx context.Context, now time.Time) ([]domain.ExpiredToken, error)

	List(ctx context.Context, limit int) ([]domain.Token, error)
	CountStats(ctx context.Context, now time.Time) (domain.TokenStats, error)
}
