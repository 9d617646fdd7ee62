package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/repository"
)

const defaultSessionBindingPrefix = "sess:binding"

// SessionBindingStore keeps the session-to-identity association in Redis so
// fingerprint checks and token lookups skip the primary store on the hot path.
type SessionBindingStore struct {
	client *red.Client
	prefix string
}

// NewSessionBindingStore constructs a Redis-backed session binding store.
func NewSessionBindingStore(client *red.Client, keyPrefix string) *SessionBindingStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionBindingPrefix
	}

	return &SessionBindingStore{client: client, prefix: prefix}
}

type bindingRecord struct {
	Fingerprint string `json:"fingerprint"`
	TokenID     string `json:"token_id"`
}

// Save stores the binding under the session id with the supplied TTL.
func (s *SessionBindingStore) Save(ctx context.Context, binding domain.SessionBinding, ttl time.Duration) error {
	key := s.key(binding.SessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	payload, err := json.Marshal(bindingRecord{
		Fingerprint: binding.Fingerprint,
		TokenID:     binding.TokenID,
	})
	if err != nil {
		return fmt.Errorf("marshal session binding: %w", err)
	}

	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session binding: %w", err)
	}

	return nil
}

// Get returns the stored binding or repository.ErrNotFound when the session
// is unknown or its entry expired.
func (s *SessionBindingStore) Get(ctx context.Context, sessionID string) (*domain.SessionBinding, error) {
	key := s.key(sessionID)
	if key == "" {
		return nil, fmt.Errorf("session id is required")
	}

	payload, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session binding: %w", err)
	}

	var record bindingRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("unmarshal session binding: %w", err)
	}

	return &domain.SessionBinding{
		SessionID:   strings.TrimSpace(sessionID),
		Fingerprint: record.Fingerprint,
		TokenID:     record.TokenID,
	}, nil
}

// Delete removes the binding. Deleting an absent entry is not an error.
func (s *SessionBindingStore) Delete(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session binding: %w", err)
	}
	return nil
}

// DeleteMany removes the bindings for the supplied session ids in one round
// trip and returns how many entries actually existed.
func (s *SessionBindingStore) DeleteMany(ctx context.Context, sessionIDs []string) (int, error) {
	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if key := s.key(id); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete session bindings: %w", err)
	}

	return int(removed), nil
}

func (s *SessionBindingStore) key(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.SessionStore = (*SessionBindingStore)(nil)
