package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

var limitTestNow = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

type fakeAttemptStore struct {
	count     int
	oldest    time.Time
	hasOldest bool

	trimErr   error
	countErr  error
	oldestErr error
	recordErr error

	recorded []string
}

func (f *fakeAttemptStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	f.recorded = append(f.recorded, identifier)
	return f.recordErr
}

func (f *fakeAttemptStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	return f.count, f.countErr
}

func (f *fakeAttemptStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	return f.trimErr
}

func (f *fakeAttemptStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	return f.oldest, f.hasOldest, f.oldestErr
}

func serveLimited(t *testing.T, store *fakeAttemptStore) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return limitTestNow })

	router := gin.New()
	router.Use(limiter.RateLimit(RateLimitRule{
		Name:   "validate_key",
		Limit:  5,
		Window: time.Minute,
		Identifier: func(c *gin.Context) (string, bool) {
			return "192.0.2.1", true
		},
	}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	return rr
}

func TestRateLimiterAllowsWhenBelowLimit(t *testing.T) {
	oldest := limitTestNow.Add(-30 * time.Second)
	store := &fakeAttemptStore{count: 2, oldest: oldest, hasOldest: true}

	rr := serveLimited(t, store)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(store.recorded) != 1 {
		t.Fatalf("expected one recorded attempt, got %d", len(store.recorded))
	}
	if store.recorded[0] != "validate_key:192.0.2.1" {
		t.Fatalf("unexpected storage key %q", store.recorded[0])
	}

	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining header 2, got %q", got)
	}
	wantReset := strconv.FormatInt(oldest.Add(time.Minute).Unix(), 10)
	if got := rr.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Fatalf("expected reset header %s, got %q", wantReset, got)
	}
	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("expected no retry-after header, got %q", got)
	}
}

func TestRateLimiterBlocksWhenLimitExceeded(t *testing.T) {
	store := &fakeAttemptStore{
		count:     5,
		oldest:    limitTestNow.Add(-30 * time.Second),
		hasOldest: true,
	}

	rr := serveLimited(t, store)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if len(store.recorded) != 0 {
		t.Fatalf("expected no recorded attempt when blocked, got %d", len(store.recorded))
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected problem status %d", problem.Status)
	}
	if problem.RetryAfter != 30 {
		t.Fatalf("expected problem retry_after 30, got %d", problem.RetryAfter)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := &fakeAttemptStore{trimErr: errors.New("redis down")}

	rr := serveLimited(t, store)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when failing open, got %d", rr.Code)
	}
	if len(store.recorded) != 0 {
		t.Fatalf("expected no recorded attempt on store failure, got %d", len(store.recorded))
	}
}
