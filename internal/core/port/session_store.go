package port

import (
	"context"
	"time"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

// SessionStore keeps the short-lived session-to-identity association. Entries
// expire independently of token lifetime via the store's native TTL.
type SessionStore interface {
	Save(ctx context.Context, binding domain.SessionBinding, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*domain.SessionBinding, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteMany(ctx context.Context, sessionIDs []string) (int, error)
}
