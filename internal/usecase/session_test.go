package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

func TestSessionService_VerifyBindingMatch(t *testing.T) {
	sessions := newFakeSessionStore()
	settings := newFakeSettingsRepository()
	service := NewSessionService(sessions, settings, nil)

	identity := testIdentity()
	binding := domain.SessionBinding{SessionID: identity.SessionID, Fingerprint: identity.Fingerprint, TokenID: "token-1"}
	if err := sessions.Save(context.Background(), binding, 0); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if err := service.VerifyBinding(context.Background(), identity); err != nil {
		t.Fatalf("VerifyBinding returned error: %v", err)
	}
}

func TestSessionService_MismatchInvalidates(t *testing.T) {
	sessions := newFakeSessionStore()
	settings := newFakeSettingsRepository()
	service := NewSessionService(sessions, settings, nil)

	identity := testIdentity()
	binding := domain.SessionBinding{SessionID: identity.SessionID, Fingerprint: "different-fp", TokenID: "token-1"}
	if err := sessions.Save(context.Background(), binding, 0); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	err := service.VerifyBinding(context.Background(), identity)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}

	if _, err := sessions.Get(context.Background(), identity.SessionID); err == nil {
		t.Fatalf("expected binding destroyed under invalidate policy")
	}
}

func TestSessionService_MismatchLogPolicyContinues(t *testing.T) {
	sessions := newFakeSessionStore()
	settings := newFakeSettingsRepository()
	service := NewSessionService(sessions, settings, nil)

	cfg, _ := settings.Get(context.Background())
	cfg.FingerprintPolicy = domain.FingerprintLog
	if err := settings.Update(context.Background(), *cfg); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	identity := testIdentity()
	binding := domain.SessionBinding{SessionID: identity.SessionID, Fingerprint: "different-fp", TokenID: "token-1"}
	if err := sessions.Save(context.Background(), binding, 0); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if err := service.VerifyBinding(context.Background(), identity); err != nil {
		t.Fatalf("expected log policy to continue, got %v", err)
	}
	if _, err := sessions.Get(context.Background(), identity.SessionID); err != nil {
		t.Fatalf("expected binding kept under log policy: %v", err)
	}
}

func TestSessionService_NoBindingIsFine(t *testing.T) {
	sessions := newFakeSessionStore()
	settings := newFakeSettingsRepository()
	service := NewSessionService(sessions, settings, nil)

	if err := service.VerifyBinding(context.Background(), testIdentity()); err != nil {
		t.Fatalf("VerifyBinding returned error: %v", err)
	}
}
