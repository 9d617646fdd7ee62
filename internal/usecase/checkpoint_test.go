package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

const validReferrer = "https://linkvertise.com/572754/checkpoint"

func testIdentity() domain.Identity {
	return domain.Identity{
		SessionID:   "session-1",
		IP:          "203.0.113.9",
		Fingerprint: "fp-1",
		UserAgent:   "GoTest/1.0",
	}
}

func newCheckpointFixture() (*CheckpointService, *fakeTokenRepository, *fakeSettingsRepository, *fakeSessionStore) {
	tokens := newFakeTokenRepository()
	settings := newFakeSettingsRepository()
	sessions := newFakeSessionStore()
	service := NewCheckpointService(tokens, settings, sessions, "https://gate.example.com", nil)
	return service, tokens, settings, sessions
}

func completeAll(t *testing.T, service *CheckpointService, identity domain.Identity) *domain.Token {
	t.Helper()

	var token *domain.Token
	for stage := domain.Stage(1); stage <= domain.StageFinal; stage++ {
		var err error
		token, err = service.CompleteCheckpoint(context.Background(), identity, stage, validReferrer, "")
		if err != nil {
			t.Fatalf("CompleteCheckpoint(%d) returned error: %v", stage, err)
		}
	}
	return token
}

func TestCheckpoint_ResumeNewVisitor(t *testing.T) {
	service, _, _, sessions := newCheckpointFixture()

	decision, err := service.Resume(context.Background(), testIdentity())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if decision.Kind != domain.DecisionRedirect {
		t.Fatalf("expected redirect, got %s", decision.Kind)
	}
	if decision.TargetStage != 1 || decision.Location != "/checkpoint/1" {
		t.Fatalf("expected redirect to checkpoint 1, got stage %d location %s", decision.TargetStage, decision.Location)
	}

	if _, err := sessions.Get(context.Background(), "session-1"); err != nil {
		t.Fatalf("expected session binding saved: %v", err)
	}
}

func TestCheckpoint_RequestNextStageYieldsAdGate(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	decision, err := service.RequestCheckpoint(context.Background(), testIdentity(), 1)
	if err != nil {
		t.Fatalf("RequestCheckpoint returned error: %v", err)
	}
	if decision.Kind != domain.DecisionAdGate {
		t.Fatalf("expected ad gate, got %s", decision.Kind)
	}
	if !strings.Contains(decision.Location, "572754") {
		t.Fatalf("expected placement id in ad url, got %s", decision.Location)
	}
	if !strings.HasPrefix(decision.Location, "https://link-to.net/") {
		t.Fatalf("unexpected ad url %s", decision.Location)
	}
}

func TestCheckpoint_SkipRedirectsToPendingStage(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	decision, err := service.RequestCheckpoint(context.Background(), testIdentity(), 3)
	if err != nil {
		t.Fatalf("RequestCheckpoint returned error: %v", err)
	}
	if decision.Kind != domain.DecisionRedirect {
		t.Fatalf("expected redirect for skipped stage, got %s", decision.Kind)
	}
	if decision.TargetStage != 1 {
		t.Fatalf("expected redirect to stage 1, got %d", decision.TargetStage)
	}
}

func TestCheckpoint_ReplayRedirectsForward(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()
	identity := testIdentity()

	if _, err := service.CompleteCheckpoint(context.Background(), identity, 1, validReferrer, ""); err != nil {
		t.Fatalf("CompleteCheckpoint returned error: %v", err)
	}

	decision, err := service.RequestCheckpoint(context.Background(), identity, 1)
	if err != nil {
		t.Fatalf("RequestCheckpoint returned error: %v", err)
	}
	if decision.Kind != domain.DecisionRedirect || decision.TargetStage != 2 {
		t.Fatalf("expected redirect to stage 2, got kind %s stage %d", decision.Kind, decision.TargetStage)
	}
}

func TestCheckpoint_MonotonicProgression(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()
	identity := testIdentity()

	token := completeAll(t, service, identity)
	if token.Stage != domain.StageFinal {
		t.Fatalf("expected final stage, got %d", token.Stage)
	}

	decision, err := service.RequestCheckpoint(context.Background(), identity, 2)
	if err != nil {
		t.Fatalf("RequestCheckpoint returned error: %v", err)
	}
	if decision.Location != "/access" {
		t.Fatalf("expected redirect to access page, got %s", decision.Location)
	}
}

func TestCheckpoint_CompleteReplayIsIdempotent(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()
	identity := testIdentity()

	first, err := service.CompleteCheckpoint(context.Background(), identity, 1, validReferrer, "")
	if err != nil {
		t.Fatalf("CompleteCheckpoint returned error: %v", err)
	}

	replay, err := service.CompleteCheckpoint(context.Background(), identity, 1, validReferrer, "")
	if err != nil {
		t.Fatalf("replayed CompleteCheckpoint returned error: %v", err)
	}
	if replay.Stage != first.Stage {
		t.Fatalf("expected replay to leave stage at %d, got %d", first.Stage, replay.Stage)
	}
}

func TestCheckpoint_CompleteSkipRejected(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	_, err := service.CompleteCheckpoint(context.Background(), testIdentity(), 2, validReferrer, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCheckpoint_CompleteWithoutReferrerRejected(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	_, err := service.CompleteCheckpoint(context.Background(), testIdentity(), 1, "", "")
	if !errors.Is(err, ErrInvalidReturn) {
		t.Fatalf("expected ErrInvalidReturn, got %v", err)
	}

	_, err = service.CompleteCheckpoint(context.Background(), testIdentity(), 1, "https://evil.example.com", "")
	if !errors.Is(err, ErrInvalidReturn) {
		t.Fatalf("expected ErrInvalidReturn for unknown referrer, got %v", err)
	}
}

func TestCheckpoint_SingleActiveTokenPerIdentity(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	first := testIdentity()
	second := testIdentity()
	second.SessionID = "session-2"

	one, err := service.Resume(context.Background(), first)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	two, err := service.Resume(context.Background(), second)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}

	if one.Token.ID != two.Token.ID {
		t.Fatalf("expected same token for same identity, got %s and %s", one.Token.ID, two.Token.ID)
	}
}

func TestCheckpoint_ExpiredTokenRestartsFunnel(t *testing.T) {
	service, tokens, _, _ := newCheckpointFixture()
	identity := testIdentity()

	token, err := service.CompleteCheckpoint(context.Background(), identity, 1, validReferrer, "")
	if err != nil {
		t.Fatalf("CompleteCheckpoint returned error: %v", err)
	}

	tokens.expire(token.ID)

	decision, err := service.Resume(context.Background(), identity)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if decision.Token.ID == token.ID {
		t.Fatalf("expected a fresh token after expiry")
	}
	if decision.TargetStage != 1 {
		t.Fatalf("expected funnel restart at stage 1, got %d", decision.TargetStage)
	}
}

func TestCheckpoint_AdGateCallbackCarriesTokenID(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	decision, err := service.RequestCheckpoint(context.Background(), testIdentity(), 1)
	if err != nil {
		t.Fatalf("RequestCheckpoint returned error: %v", err)
	}

	callback := "https://gate.example.com/checkpoint/1/complete?token=" + decision.Token.ID
	encoded := base64.RawURLEncoding.EncodeToString([]byte(callback))
	if !strings.Contains(decision.Location, encoded) {
		t.Fatalf("expected callback %q encoded into ad url %s", callback, decision.Location)
	}
}

func TestCheckpoint_CompleteWithTokenHintSurvivesIdentityChange(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()

	decision, err := service.RequestCheckpoint(context.Background(), testIdentity(), 1)
	if err != nil {
		t.Fatalf("RequestCheckpoint returned error: %v", err)
	}
	started := decision.Token

	// The visitor returns from the ad network on a different IP with no
	// cookie; only the token id in the callback ties the hop together.
	changed := domain.Identity{
		SessionID:   "session-9",
		IP:          "198.51.100.7",
		Fingerprint: "fp-9",
		UserAgent:   "GoTest/1.0",
	}
	advanced, err := service.CompleteCheckpoint(context.Background(), changed, 1, validReferrer, started.ID)
	if err != nil {
		t.Fatalf("CompleteCheckpoint returned error: %v", err)
	}
	if advanced.ID != started.ID {
		t.Fatalf("expected hinted token %s to advance, got %s", started.ID, advanced.ID)
	}
	if advanced.Stage != 1 {
		t.Fatalf("expected stage 1, got %d", advanced.Stage)
	}
}

func TestCheckpoint_UnknownTokenHintFallsBackToIdentity(t *testing.T) {
	service, _, _, _ := newCheckpointFixture()
	identity := testIdentity()

	token, err := service.CompleteCheckpoint(context.Background(), identity, 1, validReferrer, "missing-token-id")
	if err != nil {
		t.Fatalf("CompleteCheckpoint returned error: %v", err)
	}
	if token.Stage != 1 {
		t.Fatalf("expected stage 1 on identity token, got %d", token.Stage)
	}
}

func TestCheckpoint_BindingExpiresBeforeToken(t *testing.T) {
	service, _, _, sessions := newCheckpointFixture()

	if _, err := service.Resume(context.Background(), testIdentity()); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if got := sessions.savedTTL("session-1"); got != time.Hour {
		t.Fatalf("expected binding ttl capped at 1h, got %s", got)
	}

	// With a generous idle window the binding still never outlives the token.
	service.WithSessionIdleTTL(72 * time.Hour)
	if _, err := service.Resume(context.Background(), testIdentity()); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if got := sessions.savedTTL("session-1"); got > 24*time.Hour {
		t.Fatalf("expected binding ttl bounded by token expiry, got %s", got)
	}
}

func TestCheckpoint_MaintenanceMode(t *testing.T) {
	service, _, settings, _ := newCheckpointFixture()

	cfg, _ := settings.Get(context.Background())
	cfg.MaintenanceMode = true
	if err := settings.Update(context.Background(), *cfg); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if _, err := service.Resume(context.Background(), testIdentity()); !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected ErrMaintenance, got %v", err)
	}
}
