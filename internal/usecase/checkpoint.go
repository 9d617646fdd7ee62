package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/repository"
)

// CheckpointService evaluates funnel requests against stored progress. Stored
// state is authoritative on every call; nothing about the visitor's position
// is trusted from the request itself.
type CheckpointService struct {
	tokens         port.TokenRepository
	settings       port.SettingsRepository
	sessions       port.SessionStore
	baseURL        string
	sessionIdleTTL time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewCheckpointService constructs a CheckpointService instance.
func NewCheckpointService(
	tokens port.TokenRepository,
	settings port.SettingsRepository,
	sessions port.SessionStore,
	baseURL string,
	logger *zap.Logger,
) *CheckpointService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &CheckpointService{
		tokens:         tokens,
		settings:       settings,
		sessions:       sessions,
		baseURL:        baseURL,
		sessionIdleTTL: time.Hour,
		logger:         logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *CheckpointService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithSessionIdleTTL overrides the idle lifetime of session bindings. The
// binding expires independently of the token so an abandoned browser session
// drops out of the cache long before the key does.
func (s *CheckpointService) WithSessionIdleTTL(ttl time.Duration) {
	if ttl > 0 {
		s.sessionIdleTTL = ttl
	}
}

// Resume returns where the visitor currently stands: the decision redirects
// to the next pending checkpoint, or to the access page once the funnel is
// complete. Serves the landing page.
func (s *CheckpointService) Resume(ctx context.Context, identity domain.Identity) (*domain.Decision, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if cfg.MaintenanceMode {
		return nil, ErrMaintenance
	}

	token, err := s.tokens.CreateOrGetActive(ctx, identity, cfg.KeyTTL())
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	s.saveBinding(ctx, identity, token)

	return s.redirectDecision(token), nil
}

// RequestCheckpoint evaluates a GET on checkpoint n. A request for the next
// pending stage yields an ad gate; anything else redirects to where the
// visitor actually is.
func (s *CheckpointService) RequestCheckpoint(ctx context.Context, identity domain.Identity, requested domain.Stage) (*domain.Decision, error) {
	if requested < 1 || requested > domain.StageFinal {
		return nil, ErrInvalidTransition
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if cfg.MaintenanceMode {
		return nil, ErrMaintenance
	}

	token, err := s.tokens.CreateOrGetActive(ctx, identity, cfg.KeyTTL())
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	s.saveBinding(ctx, identity, token)

	// Replays and skips both resolve to a redirect toward stored progress.
	if requested != token.NextStage() || token.Stage >= domain.StageFinal {
		return s.redirectDecision(token), nil
	}

	location := s.adGateURL(cfg, token, requested)
	s.logger.Debug("checkpoint ad gate",
		zap.String("token_id", token.ID),
		zap.Int("stage", int(requested)),
	)

	return &domain.Decision{
		Kind:        domain.DecisionAdGate,
		TargetStage: requested,
		Location:    location,
		Token:       token,
	}, nil
}

// CompleteCheckpoint records a single-step advance through checkpoint n.
// tokenHint is the token id carried through the ad network callback; when it
// resolves to a live token it takes precedence over identity lookup, so a
// visitor whose identity shifted mid-hop (new IP, cleared cookies) still
// lands on the token that started the hop. Replays return the current token
// unchanged so the caller can redirect forward; out-of-order completions
// fail with ErrInvalidTransition.
func (s *CheckpointService) CompleteCheckpoint(ctx context.Context, identity domain.Identity, requested domain.Stage, referrer, tokenHint string) (*domain.Token, error) {
	if requested < 1 || requested > domain.StageFinal {
		return nil, ErrInvalidTransition
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if cfg.MaintenanceMode {
		return nil, ErrMaintenance
	}

	token, err := s.resolveCompletionToken(ctx, identity, cfg, tokenHint)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	now := s.now()

	// Replay of an already-completed stage is a no-op success.
	if token.Stage >= requested {
		return token, nil
	}
	if !token.CanAdvanceTo(requested) {
		return nil, ErrInvalidTransition
	}
	if !cfg.ReferrerAllowed(referrer) {
		s.logger.Warn("checkpoint return rejected",
			zap.String("token_id", token.ID),
			zap.Int("stage", int(requested)),
		)
		return nil, ErrInvalidReturn
	}

	advanced, err := s.tokens.AdvanceStage(ctx, token.ID, requested, now)
	if err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// A concurrent completion may have advanced the token first.
			current, getErr := s.tokens.GetByID(ctx, token.ID)
			if getErr == nil && current.Stage >= requested && current.IsActive(now) {
				return current, nil
			}
			if getErr == nil && current.IsExpired(now) {
				return nil, ErrExpired
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("advance stage: %w", err)
	}

	s.saveBinding(ctx, identity, advanced)
	s.logger.Info("checkpoint completed",
		zap.String("token_id", advanced.ID),
		zap.Int("stage", int(advanced.Stage)),
	)

	return advanced, nil
}

func (s *CheckpointService) redirectDecision(token *domain.Token) *domain.Decision {
	if token.Stage >= domain.StageFinal {
		return &domain.Decision{
			Kind:        domain.DecisionRedirect,
			TargetStage: domain.StageFinal,
			Location:    "/access",
			Token:       token,
		}
	}

	next := token.NextStage()
	return &domain.Decision{
		Kind:        domain.DecisionRedirect,
		TargetStage: next,
		Location:    fmt.Sprintf("/checkpoint/%d", next),
		Token:       token,
	}
}

// resolveCompletionToken prefers the token named by the callback hint over
// the identity's active token, falling back when the hint is absent, unknown
// or no longer live.
func (s *CheckpointService) resolveCompletionToken(ctx context.Context, identity domain.Identity, cfg *domain.Settings, tokenHint string) (*domain.Token, error) {
	if tokenHint != "" {
		hinted, err := s.tokens.GetByID(ctx, tokenHint)
		switch {
		case err == nil && hinted.IsActive(s.now()):
			return hinted, nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}
	return s.tokens.CreateOrGetActive(ctx, identity, cfg.KeyTTL())
}

// adGateURL renders the outbound ad network link. The callback the network
// sends the visitor back to carries the token id so completion does not
// depend on the identity surviving the round trip.
func (s *CheckpointService) adGateURL(cfg *domain.Settings, token *domain.Token, stage domain.Stage) string {
	callback := fmt.Sprintf("%s/checkpoint/%d/complete?token=%s", s.baseURL, stage, token.ID)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(callback))
	return fmt.Sprintf(cfg.AdURLTemplate, cfg.PlacementID(stage), stage, encoded)
}

func (s *CheckpointService) saveBinding(ctx context.Context, identity domain.Identity, token *domain.Token) {
	ttl := token.RemainingTTL(s.now())
	if ttl <= 0 {
		return
	}
	if ttl > s.sessionIdleTTL {
		ttl = s.sessionIdleTTL
	}

	binding := domain.SessionBinding{
		SessionID:   identity.SessionID,
		Fingerprint: identity.Fingerprint,
		TokenID:     token.ID,
	}
	if err := s.sessions.Save(ctx, binding, ttl); err != nil {
		s.logger.Warn("save session binding", zap.Error(err))
	}
}
