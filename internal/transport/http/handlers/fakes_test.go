package handlers_test

import (
	"context"
	"time"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/repository"
)

// stubTokens is a minimal in-memory token store for handler tests. It backs a
// single active token, which matches the single-visitor scenarios the
// transport tests exercise.
type stubTokens struct {
	active *domain.Token
	byKey  map[string]*domain.Token
}

func newStubTokens(active *domain.Token) *stubTokens {
	s := &stubTokens{active: active, byKey: map[string]*domain.Token{}}
	if active != nil && active.KeyValue != nil {
		s.byKey[*active.KeyValue] = active
	}
	return s
}

func (s *stubTokens) CreateOrGetActive(ctx context.Context, identity domain.Identity, ttl time.Duration) (*domain.Token, error) {
	if s.active == nil {
		return nil, repository.ErrNotFound
	}
	copied := *s.active
	return &copied, nil
}

func (s *stubTokens) GetByID(ctx context.Context, tokenID string) (*domain.Token, error) {
	if s.active != nil && s.active.ID == tokenID {
		copied := *s.active
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubTokens) GetByKeyValue(ctx context.Context, keyValue string) (*domain.Token, error) {
	if token, ok := s.byKey[keyValue]; ok {
		copied := *token
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubTokens) AdvanceStage(ctx context.Context, tokenID string, target domain.Stage, at time.Time) (*domain.Token, error) {
	if s.active == nil || s.active.ID != tokenID {
		return nil, repository.ErrNotFound
	}
	if s.active.Stage != target-1 {
		return nil, repository.ErrStaleTransition
	}
	s.active.Stage = target
	s.active.LastAccessedAt = at
	copied := *s.active
	return &copied, nil
}

func (s *stubTokens) IssueKey(ctx context.Context, tokenID, keyValue string, at time.Time) (*domain.Token, error) {
	if s.active == nil || s.active.ID != tokenID {
		return nil, repository.ErrNotFound
	}
	if s.active.Issued() {
		copied := *s.active
		return &copied, repository.ErrAlreadyIssued
	}
	s.active.KeyValue = &keyValue
	issuedAt := at
	s.active.IssuedAt = &issuedAt
	s.byKey[keyValue] = s.active
	copied := *s.active
	return &copied, nil
}

func (s *stubTokens) TouchLastAccessed(ctx context.Context, tokenID string, at time.Time) error {
	return nil
}

func (s *stubTokens) Revoke(ctx context.Context, tokenID string, at time.Time) error {
	if s.active == nil || s.active.ID != tokenID {
		return repository.ErrNotFound
	}
	s.active.Revoke(at)
	return nil
}

func (s *stubTokens) Delete(ctx context.Context, tokenID string) error {
	if s.active != nil && s.active.ID == tokenID {
		s.active = nil
		return nil
	}
	return repository.ErrNotFound
}

func (s *stubTokens) ResetStage(ctx context.Context, tokenID string) (*domain.Token, error) {
	if s.active == nil || s.active.ID != tokenID {
		return nil, repository.ErrNotFound
	}
	s.active.Stage = domain.StageNone
	s.active.KeyValue = nil
	s.active.IssuedAt = nil
	copied := *s.active
	return &copied, nil
}

func (s *stubTokens) ExtendExpiry(ctx context.Context, tokenID string, ttl time.Duration, at time.Time) (*domain.Token, error) {
	if s.active == nil || s.active.ID != tokenID {
		return nil, repository.ErrNotFound
	}
	s.active.ExpiresAt = at.Add(ttl)
	copied := *s.active
	return &copied, nil
}

func (s *stubTokens) DeleteExpired(ctx context.Context, now time.Time) ([]domain.ExpiredToken, error) {
	return nil, nil
}

func (s *stubTokens) List(ctx context.Context, limit int) ([]domain.Token, error) {
	if s.active == nil {
		return nil, nil
	}
	return []domain.Token{*s.active}, nil
}

func (s *stubTokens) CountStats(ctx context.Context, now time.Time) (domain.TokenStats, error) {
	stats := domain.TokenStats{}
	if s.active != nil {
		stats.Total = 1
		if s.active.IsActive(now) {
			stats.Active = 1
		}
		if s.active.Stage >= domain.StageFinal {
			stats.Completed = 1
		}
		if s.active.IsExpired(now) {
			stats.Expired = 1
		}
	}
	return stats, nil
}

type stubSettings struct {
	settings domain.Settings
}

func newStubSettings() *stubSettings {
	return &stubSettings{settings: domain.DefaultSettings()}
}

func (s *stubSettings) Get(ctx context.Context) (*domain.Settings, error) {
	copied := s.settings
	return &copied, nil
}

func (s *stubSettings) Update(ctx context.Context, settings domain.Settings) error {
	s.settings = settings
	return nil
}

type stubSessions struct{}

func (stubSessions) Save(ctx context.Context, binding domain.SessionBinding, ttl time.Duration) error {
	return nil
}

func (stubSessions) Get(ctx context.Context, sessionID string) (*domain.SessionBinding, error) {
	return nil, repository.ErrNotFound
}

func (stubSessions) Delete(ctx context.Context, sessionID string) error { return nil }

func (stubSessions) DeleteMany(ctx context.Context, sessionIDs []string) (int, error) {
	return 0, nil
}
