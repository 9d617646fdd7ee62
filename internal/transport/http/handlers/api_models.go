package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports liveness information.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse aggregates dependency probe results.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// AccessKeyResponse is returned when a completed visitor lands on the access
// page or calls the key creation endpoint.
type AccessKeyResponse struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// ValidateKeyRequest defines the payload for the key validation endpoint.
type ValidateKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// ValidateKeyResponse is returned for a valid, activated key.
type ValidateKeyResponse struct {
	Valid            bool      `json:"valid"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingMinutes int       `json:"remaining_minutes"`
}

// StatsResponse aggregates token counts.
type StatsResponse struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Expired   int64 `json:"expired"`
}

// KeySummary describes a token row on the admin surface.
type KeySummary struct {
	ID             string             `json:"id"`
	Key            *string            `json:"key,omitempty"`
	Stage          int                `json:"stage"`
	Status         domain.TokenStatus `json:"status"`
	IP             string             `json:"ip"`
	UserAgent      string             `json:"user_agent,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	IssuedAt       *time.Time         `json:"issued_at,omitempty"`
	LastAccessedAt time.Time          `json:"last_accessed_at"`
	RevokedAt      *time.Time         `json:"revoked_at,omitempty"`
}

func newKeySummary(token domain.Token) KeySummary {
	return KeySummary{
		ID:             token.ID,
		Key:            token.KeyValue,
		Stage:          int(token.Stage),
		Status:         token.Status,
		IP:             token.IP,
		UserAgent:      token.UserAgent,
		CreatedAt:      token.CreatedAt,
		ExpiresAt:      token.ExpiresAt,
		IssuedAt:       token.IssuedAt,
		LastAccessedAt: token.LastAccessedAt,
		RevokedAt:      token.RevokedAt,
	}
}

// KeyListResponse wraps the admin key listing.
type KeyListResponse struct {
	Keys  []KeySummary `json:"keys"`
	Total int          `json:"total"`
}

// RevokeKeyRequest carries the optional revocation reason.
type RevokeKeyRequest struct {
	Reason string `json:"reason"`
}

// SettingsPayload mirrors the runtime settings record over the admin surface.
type SettingsPayload struct {
	KeyExpirationHours     int                      `json:"key_expiration_hours"`
	PlacementIDs           []int64                  `json:"placement_ids"`
	AdURLTemplate          string                   `json:"ad_url_template"`
	ReferrerAllowList      []string                 `json:"referrer_allow_list"`
	WebhookURL             string                   `json:"webhook_url"`
	WebhookIntervalSeconds int                      `json:"webhook_interval_seconds"`
	WebhookEnabled         bool                     `json:"webhook_enabled"`
	SystemMessage          string                   `json:"system_message"`
	MaintenanceMode        bool                     `json:"maintenance_mode"`
	FingerprintPolicy      domain.FingerprintPolicy `json:"fingerprint_policy"`
	AllowExtension         bool                     `json:"allow_extension"`
	RateLimitPerHour       int                      `json:"rate_limit_per_hour"`
	UpdatedAt              time.Time                `json:"updated_at"`
}

func newSettingsPayload(cfg domain.Settings) SettingsPayload {
	placements := make([]int64, 0, len(cfg.PlacementIDs))
	placements = append(placements, cfg.PlacementIDs[:]...)

	return SettingsPayload{
		KeyExpirationHours:     cfg.KeyExpirationHours,
		PlacementIDs:           placements,
		AdURLTemplate:          cfg.AdURLTemplate,
		ReferrerAllowList:      cfg.ReferrerAllowList,
		WebhookURL:             cfg.WebhookURL,
		WebhookIntervalSeconds: int(cfg.WebhookInterval / time.Second),
		WebhookEnabled:         cfg.WebhookEnabled,
		SystemMessage:          cfg.SystemMessage,
		MaintenanceMode:        cfg.MaintenanceMode,
		FingerprintPolicy:      cfg.FingerprintPolicy,
		AllowExtension:         cfg.AllowExtension,
		RateLimitPerHour:       cfg.RateLimitPerHour,
		UpdatedAt:              cfg.UpdatedAt,
	}
}

// SweepResponse reports what an on-demand cleanup pass removed.
type SweepResponse struct {
	TokensDeleted   int `json:"tokens_deleted"`
	SessionsDropped int `json:"sessions_dropped"`
}
