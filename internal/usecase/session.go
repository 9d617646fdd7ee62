package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/repository"
)

// SessionService enforces the binding between a browser session and the
// fingerprint it was first seen with.
type SessionService struct {
	sessions port.SessionStore
	settings port.SettingsRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(sessions port.SessionStore, settings port.SettingsRepository, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &SessionService{
		sessions: sessions,
		settings: settings,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// VerifyBinding compares the request identity against the stored session
// binding. Under the invalidate policy a mismatch destroys the binding and
// returns ErrFingerprintMismatch so the transport rotates the session; under
// the log policy the mismatch is recorded and the request proceeds.
func (s *SessionService) VerifyBinding(ctx context.Context, identity domain.Identity) error {
	if identity.SessionID == "" {
		return nil
	}

	binding, err := s.sessions.Get(ctx, identity.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session binding: %w", err)
	}

	if binding.Fingerprint == identity.Fingerprint {
		return nil
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.logger.Warn("session fingerprint mismatch",
		zap.String("session_id", identity.SessionID),
		zap.String("policy", string(cfg.FingerprintPolicy)),
	)

	if cfg.FingerprintPolicy == domain.FingerprintInvalidate {
		if err := s.sessions.Delete(ctx, identity.SessionID); err != nil {
			s.logger.Warn("drop session binding", zap.Error(err))
		}
		return ErrFingerprintMismatch
	}

	return nil
}

// DropBinding removes the stored binding for a session.
func (s *SessionService) DropBinding(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.sessions.Delete(ctx, sessionID)
}
