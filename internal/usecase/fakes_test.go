package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/repository"
)

// fakeTokenRepository is an in-memory stand-in honoring the same concurrency
// contract as the SQL implementation: conditional advances, idempotent
// issuance, one active token per identity key.
type fakeTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token
}

func newFakeTokenRepository() *fakeTokenRepository {
	return &fakeTokenRepository{tokens: make(map[string]*domain.Token)}
}

func (f *fakeTokenRepository) CreateOrGetActive(_ context.Context, identity domain.Identity, ttl time.Duration) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	identityKey := identity.Key()
	for id, token := range f.tokens {
		if token.IdentityKey != identityKey || token.Status != domain.StatusActive {
			continue
		}
		if token.ExpiresAt.After(now) {
			copied := *token
			return &copied, nil
		}
		// An expired row holds the per-identity active slot until cleared,
		// matching the partial unique index in the SQL implementation.
		delete(f.tokens, id)
	}

	token := &domain.Token{
		ID:             uuid.NewString(),
		IdentityKey:    identityKey,
		SessionID:      identity.SessionID,
		IP:             identity.IP,
		Fingerprint:    identity.Fingerprint,
		UserAgent:      identity.UserAgent,
		Stage:          domain.StageNone,
		Status:         domain.StatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
	f.tokens[token.ID] = token
	copied := *token
	return &copied, nil
}

func (f *fakeTokenRepository) GetByID(_ context.Context, tokenID string) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (f *fakeTokenRepository) GetByKeyValue(_ context.Context, keyValue string) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, token := range f.tokens {
		if token.KeyValue != nil && *token.KeyValue == keyValue {
			copied := *token
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTokenRepository) AdvanceStage(_ context.Context, tokenID string, target domain.Stage, at time.Time) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[tokenID]
	if !ok || token.Stage != target-1 || token.Status != domain.StatusActive || !token.ExpiresAt.After(at) {
		return nil, repository.ErrStaleTransition
	}

	token.Stage = target
	token.LastAccessedAt = at
	copied := *token
	return &copied, nil
}

func (f *fakeTokenRepository) IssueKey(_ context.Context, tokenID, keyValue string, at time.Time) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if token.KeyValue != nil {
		copied := *token
		return &copied, repository.ErrAlreadyIssued
	}
	if token.Stage < domain.StageFinal || token.Status != domain.StatusActive {
		return nil, repository.ErrStaleTransition
	}

	value := keyValue
	issuedAt := at
	token.KeyValue = &value
	token.IssuedAt = &issuedAt
	token.LastAccessedAt = at
	copied := *token
	return &copied, nil
}

func (f *fakeTokenRepository) TouchLastAccessed(_ context.Context, tokenID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token, ok := f.tokens[tokenID]; ok {
		token.LastAccessedAt = at
	}
	return nil
}

func (f *fakeTokenRepository) Revoke(_ context.Context, tokenID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token, ok := f.tokens[tokenID]; ok && token.Status == domain.StatusActive {
		revokedAt := at
		token.Status = domain.StatusRevoked
		token.RevokedAt = &revokedAt
	}
	return nil
}

func (f *fakeTokenRepository) Delete(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.tokens, tokenID)
	return nil
}

func (f *fakeTokenRepository) ResetStage(_ context.Context, tokenID string) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	token.Stage = domain.StageNone
	token.KeyValue = nil
	token.IssuedAt = nil
	copied := *token
	return &copied, nil
}

func (f *fakeTokenRepository) ExtendExpiry(_ context.Context, tokenID string, ttl time.Duration, at time.Time) (*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[tokenID]
	if !ok || token.Status != domain.StatusActive {
		return nil, repository.ErrNotFound
	}
	token.ExpiresAt = at.Add(ttl)
	copied := *token
	return &copied, nil
}

func (f *fakeTokenRepository) DeleteExpired(_ context.Context, now time.Time) ([]domain.ExpiredToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []domain.ExpiredToken
	for id, token := range f.tokens {
		if !token.ExpiresAt.After(now) {
			expired = append(expired, domain.ExpiredToken{ID: id, SessionID: token.SessionID})
			delete(f.tokens, id)
		}
	}
	return expired, nil
}

func (f *fakeTokenRepository) List(_ context.Context, limit int) ([]domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tokens := make([]domain.Token, 0, len(f.tokens))
	for _, token := range f.tokens {
		tokens = append(tokens, *token)
		if limit > 0 && len(tokens) >= limit {
			break
		}
	}
	return tokens, nil
}

func (f *fakeTokenRepository) CountStats(_ context.Context, now time.Time) (domain.TokenStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var stats domain.TokenStats
	for _, token := range f.tokens {
		stats.Total++
		if token.Status == domain.StatusActive && token.ExpiresAt.After(now) {
			stats.Active++
			if token.KeyValue != nil {
				stats.Completed++
			}
		}
		if !token.ExpiresAt.After(now) {
			stats.Expired++
		}
	}
	return stats, nil
}

// expire forces a token past its expiry for tests.
func (f *fakeTokenRepository) expire(tokenID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token, ok := f.tokens[tokenID]; ok {
		token.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

type fakeSessionStore struct {
	mu       sync.Mutex
	bindings map[string]domain.SessionBinding
	ttls     map[string]time.Duration
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		bindings: make(map[string]domain.SessionBinding),
		ttls:     make(map[string]time.Duration),
	}
}

func (f *fakeSessionStore) Save(_ context.Context, binding domain.SessionBinding, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[binding.SessionID] = binding
	f.ttls[binding.SessionID] = ttl
	return nil
}

// savedTTL reports the ttl recorded for the session's binding.
func (f *fakeSessionStore) savedTTL(sessionID string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[sessionID]
}

func (f *fakeSessionStore) Get(_ context.Context, sessionID string) (*domain.SessionBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	binding, ok := f.bindings[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := binding
	return &copied, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bindings, sessionID)
	return nil
}

func (f *fakeSessionStore) DeleteMany(_ context.Context, sessionIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for _, id := range sessionIDs {
		if _, ok := f.bindings[id]; ok {
			delete(f.bindings, id)
			removed++
		}
	}
	return removed, nil
}

type fakeSettingsRepository struct {
	mu       sync.Mutex
	settings domain.Settings
}

func newFakeSettingsRepository() *fakeSettingsRepository {
	settings := domain.DefaultSettings()
	settings.UpdatedAt = time.Now().UTC()
	return &fakeSettingsRepository{settings: settings}
}

func (f *fakeSettingsRepository) Get(_ context.Context) (*domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := f.settings
	return &copied, nil
}

func (f *fakeSettingsRepository) Update(_ context.Context, settings domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = settings
	return nil
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	issued []domain.KeyIssuedEvent
	revoke []domain.KeyRevokedEvent
	sweeps []domain.SweepCompletedEvent
}

func (f *fakeEventPublisher) PublishKeyIssued(_ context.Context, event domain.KeyIssuedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, event)
	return nil
}

func (f *fakeEventPublisher) PublishKeyRevoked(_ context.Context, event domain.KeyRevokedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoke = append(f.revoke, event)
	return nil
}

func (f *fakeEventPublisher) PublishSweepCompleted(_ context.Context, event domain.SweepCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, event)
	return nil
}
