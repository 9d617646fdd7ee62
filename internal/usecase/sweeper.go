package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
)

// Sweeper removes expired tokens and their session bindings on a fixed
// interval. The process lifecycle owns the loop; Sweep stays callable on its
// own for the admin cleanup endpoint and for tests.
type Sweeper struct {
	tokens   port.TokenRepository
	sessions port.SessionStore
	events   port.EventPublisher
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// SweepResult reports what a single sweep pass removed.
type SweepResult struct {
	TokensDeleted   int
	SessionsDropped int
}

// NewSweeper constructs a Sweeper instance.
func NewSweeper(
	tokens port.TokenRepository,
	sessions port.SessionStore,
	events port.EventPublisher,
	interval time.Duration,
	logger *zap.Logger,
) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	sweeper := &Sweeper{
		tokens:   tokens,
		sessions: sessions,
		events:   events,
		interval: interval,
		logger:   logger,
	}
	sweeper.now = func() time.Time { return time.Now().UTC() }
	return sweeper
}

// WithClock overrides the sweeper clock for deterministic tests.
func (s *Sweeper) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Sweep performs one pass: expired tokens are deleted and the session
// bindings they anchored are dropped in bulk.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()

	expired, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("delete expired tokens: %w", err)
	}
	if len(expired) == 0 {
		return SweepResult{}, nil
	}

	sessionIDs := make([]string, 0, len(expired))
	for _, record := range expired {
		if record.SessionID != "" {
			sessionIDs = append(sessionIDs, record.SessionID)
		}
	}

	dropped := 0
	if len(sessionIDs) > 0 {
		dropped, err = s.sessions.DeleteMany(ctx, sessionIDs)
		if err != nil {
			// Tokens are already gone; bindings expire on their own TTL.
			s.logger.Warn("drop session bindings", zap.Error(err))
			err = nil
		}
	}

	result := SweepResult{TokensDeleted: len(expired), SessionsDropped: dropped}
	s.publishCompleted(ctx, result)
	s.logger.Info("sweep completed",
		zap.Int("tokens_deleted", result.TokensDeleted),
		zap.Int("sessions_dropped", result.SessionsDropped),
	)

	return result, nil
}

// Run executes sweep passes on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) publishCompleted(ctx context.Context, result SweepResult) {
	if s.events == nil {
		return
	}

	event := domain.SweepCompletedEvent{
		EventID:         uuid.NewString(),
		TokensDeleted:   result.TokensDeleted,
		SessionsDropped: result.SessionsDropped,
		CompletedAt:     s.now(),
	}
	if err := s.events.PublishSweepCompleted(ctx, event); err != nil {
		s.logger.Warn("publish sweep event", zap.Error(err))
	}
}
