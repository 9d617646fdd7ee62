package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/infra/logger"
	"github.com/keygate-labs/keygate/internal/infra/security"
	"github.com/keygate-labs/keygate/internal/repository"
)

// KeyService owns access key issuance, validation, and administrative
// lifecycle operations.
type KeyService struct {
	tokens      port.TokenRepository
	settings    port.SettingsRepository
	sessions    port.SessionStore
	events      port.EventPublisher
	logger      *zap.Logger
	now         func() time.Time
	generateKey func() (string, error)
}

// NewKeyService constructs a KeyService instance.
func NewKeyService(
	tokens port.TokenRepository,
	settings port.SettingsRepository,
	sessions port.SessionStore,
	events port.EventPublisher,
	logger *zap.Logger,
) *KeyService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &KeyService{
		tokens:   tokens,
		settings: settings,
		sessions: sessions,
		events:   events,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	service.generateKey = security.GenerateAccessKey
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *KeyService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithKeyGenerator overrides key generation for deterministic tests.
func (s *KeyService) WithKeyGenerator(generate func() (string, error)) {
	if generate != nil {
		s.generateKey = generate
	}
}

// IssueKey hands the visitor their access key once every checkpoint is
// complete. Replays return the already-issued key unchanged.
func (s *KeyService) IssueKey(ctx context.Context, identity domain.Identity) (*domain.Token, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	token, err := s.tokens.CreateOrGetActive(ctx, identity, cfg.KeyTTL())
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	if token.Stage < domain.StageFinal {
		return nil, ErrStageIncomplete
	}

	now := s.now()
	if token.Issued() {
		if err := s.tokens.TouchLastAccessed(ctx, token.ID, now); err != nil {
			s.logger.Warn("touch token", zap.Error(err))
		}
		return token, nil
	}

	keyValue, err := s.generateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	issued, err := s.tokens.IssueKey(ctx, token.ID, keyValue, now)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyIssued):
			// A concurrent request won the write; the stored key is the key.
			return issued, nil
		case errors.Is(err, repository.ErrStaleTransition):
			return nil, ErrStageIncomplete
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrTokenNotFound
		default:
			return nil, fmt.Errorf("issue key: %w", err)
		}
	}

	s.publishIssued(ctx, issued)
	s.logger.Info("access key issued",
		zap.String("token_id", issued.ID),
		zap.String("key", logger.MaskKey(keyValue)),
		zap.Time("expires_at", issued.ExpiresAt),
	)

	return issued, nil
}

// ValidateKey checks a presented key value and returns the backing token.
// Unknown, expired, revoked, and not-yet-activated keys map to distinct
// sentinel errors so the transport can keep its status contract.
func (s *KeyService) ValidateKey(ctx context.Context, keyValue string) (*domain.Token, error) {
	if keyValue == "" {
		return nil, ErrKeyNotFound
	}

	token, err := s.tokens.GetByKeyValue(ctx, keyValue)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("lookup key: %w", err)
	}

	now := s.now()
	switch {
	case token.IsRevoked():
		return nil, ErrKeyRevoked
	case token.IsExpired(now):
		// Validation noticed the expiry before the sweeper did; reclaim the
		// record and its binding right away.
		s.cleanupExpired(ctx, token)
		return nil, ErrExpired
	case token.Stage < domain.StageFinal:
		return nil, ErrStageIncomplete
	}

	if err := s.tokens.TouchLastAccessed(ctx, token.ID, now); err != nil {
		s.logger.Warn("touch token", zap.Error(err))
	}
	token.Touch(now)

	return token, nil
}

// RevokeKey withdraws a key and drops the session binding so the browser
// restarts the funnel.
func (s *KeyService) RevokeKey(ctx context.Context, tokenID, reason string) error {
	token, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("lookup token: %w", err)
	}

	now := s.now()
	if err := s.tokens.Revoke(ctx, token.ID, now); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.dropBinding(ctx, token.SessionID)
	s.publishRevoked(ctx, token.ID, reason, now)

	s.logger.Info("access key revoked",
		zap.String("token_id", token.ID),
		zap.String("reason", reason),
	)

	return nil
}

// DeleteKey removes the token record entirely along with its session binding.
func (s *KeyService) DeleteKey(ctx context.Context, tokenID string) error {
	token, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("lookup token: %w", err)
	}

	if err := s.tokens.Delete(ctx, token.ID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	s.dropBinding(ctx, token.SessionID)

	return nil
}

// ResetKey sends the token back to stage zero and withdraws any issued key.
func (s *KeyService) ResetKey(ctx context.Context, tokenID string) (*domain.Token, error) {
	token, err := s.tokens.ResetStage(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("reset token: %w", err)
	}

	s.logger.Info("token reset", zap.String("token_id", token.ID))
	return token, nil
}

// ExtendKey pushes expiry forward by the configured TTL. Disabled unless the
// operator opted in.
func (s *KeyService) ExtendKey(ctx context.Context, tokenID string) (*domain.Token, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !cfg.AllowExtension {
		return nil, ErrExtensionDisabled
	}

	token, err := s.tokens.ExtendExpiry(ctx, tokenID, cfg.KeyTTL(), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("extend token: %w", err)
	}

	return token, nil
}

// ListKeys returns recent tokens for the admin surface.
func (s *KeyService) ListKeys(ctx context.Context, limit int) ([]domain.Token, error) {
	tokens, err := s.tokens.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// Stats aggregates token counts.
func (s *KeyService) Stats(ctx context.Context) (domain.TokenStats, error) {
	stats, err := s.tokens.CountStats(ctx, s.now())
	if err != nil {
		return domain.TokenStats{}, fmt.Errorf("count stats: %w", err)
	}
	return stats, nil
}

func (s *KeyService) publishIssued(ctx context.Context, token *domain.Token) {
	if s.events == nil {
		return
	}

	event := domain.KeyIssuedEvent{
		EventID:   uuid.NewString(),
		TokenID:   token.ID,
		IP:        token.IP,
		IssuedAt:  s.now(),
		ExpiresAt: token.ExpiresAt,
	}
	if err := s.events.PublishKeyIssued(ctx, event); err != nil {
		s.logger.Warn("publish key issued event", zap.Error(err))
	}
}

func (s *KeyService) publishRevoked(ctx context.Context, tokenID, reason string, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.KeyRevokedEvent{
		EventID:   uuid.NewString(),
		TokenID:   tokenID,
		Reason:    reason,
		RevokedAt: at,
	}
	if err := s.events.PublishKeyRevoked(ctx, event); err != nil {
		s.logger.Warn("publish key revoked event", zap.Error(err))
	}
}

func (s *KeyService) cleanupExpired(ctx context.Context, token *domain.Token) {
	if err := s.tokens.Delete(ctx, token.ID); err != nil {
		s.logger.Warn("delete expired token", zap.Error(err))
		return
	}
	s.dropBinding(ctx, token.SessionID)
	s.logger.Debug("expired token reclaimed", zap.String("token_id", token.ID))
}

func (s *KeyService) dropBinding(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("drop session binding", zap.Error(err))
	}
}
