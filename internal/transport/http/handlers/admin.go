package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/usecase"
)

const defaultKeyListLimit = 100

// AdminHandler exposes the operator surface: key lifecycle management,
// runtime settings, and on-demand cleanup.
type AdminHandler struct {
	keys     *usecase.KeyService
	sweeper  *usecase.Sweeper
	settings port.SettingsRepository
	logger   *zap.Logger
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(keys *usecase.KeyService, sweeper *usecase.Sweeper, settings port.SettingsRepository, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{keys: keys, sweeper: sweeper, settings: settings, logger: logger}
}

// RegisterRoutes binds the admin routes to the provided router group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/keys", h.ListKeys)
	r.DELETE("/keys/:id", h.DeleteKey)
	r.POST("/keys/:id/revoke", h.RevokeKey)
	r.POST("/keys/:id/reset", h.ResetKey)
	r.POST("/keys/:id/extend", h.ExtendKey)
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.UpdateSettings)
	r.POST("/cleanup", h.Cleanup)
}

// ListKeys returns recent tokens, newest first.
func (h *AdminHandler) ListKeys(c *gin.Context) {
	limit := defaultKeyListLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	tokens, err := h.keys.ListKeys(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list keys", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list keys"))
		return
	}

	summaries := make([]KeySummary, 0, len(tokens))
	for _, token := range tokens {
		summaries = append(summaries, newKeySummary(token))
	}

	c.JSON(http.StatusOK, KeyListResponse{Keys: summaries, Total: len(summaries)})
}

// RevokeKey withdraws a key so downstream validation rejects it.
func (h *AdminHandler) RevokeKey(c *gin.Context) {
	tokenID := strings.TrimSpace(c.Param("id"))
	if tokenID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token id is required"))
		return
	}

	var req RevokeKeyRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.keys.RevokeKey(c.Request.Context(), tokenID, strings.TrimSpace(req.Reason)); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTokenNotFound, Status: http.StatusNotFound, Message: "token not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to revoke key")
		return
	}

	c.Status(http.StatusNoContent)
}

// ResetKey sends the token back to stage zero and withdraws its key.
func (h *AdminHandler) ResetKey(c *gin.Context) {
	tokenID := strings.TrimSpace(c.Param("id"))
	if tokenID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token id is required"))
		return
	}

	token, err := h.keys.ResetKey(c.Request.Context(), tokenID)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTokenNotFound, Status: http.StatusNotFound, Message: "token not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to reset key")
		return
	}

	c.JSON(http.StatusOK, newKeySummary(*token))
}

// ExtendKey pushes expiry forward by the configured TTL when extension is
// enabled.
func (h *AdminHandler) ExtendKey(c *gin.Context) {
	tokenID := strings.TrimSpace(c.Param("id"))
	if tokenID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token id is required"))
		return
	}

	token, err := h.keys.ExtendKey(c.Request.Context(), tokenID)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTokenNotFound, Status: http.StatusNotFound, Message: "token not found"},
			{Err: usecase.ErrExtensionDisabled, Status: http.StatusConflict, Message: "key extension disabled"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to extend key")
		return
	}

	c.JSON(http.StatusOK, newKeySummary(*token))
}

// DeleteKey removes the token record entirely.
func (h *AdminHandler) DeleteKey(c *gin.Context) {
	tokenID := strings.TrimSpace(c.Param("id"))
	if tokenID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token id is required"))
		return
	}

	if err := h.keys.DeleteKey(c.Request.Context(), tokenID); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTokenNotFound, Status: http.StatusNotFound, Message: "token not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to delete key")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetSettings returns the current runtime settings.
func (h *AdminHandler) GetSettings(c *gin.Context) {
	cfg, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.logger.Error("load settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load settings"))
		return
	}

	c.JSON(http.StatusOK, newSettingsPayload(*cfg))
}

// UpdateSettings replaces the runtime settings record. The payload is
// validated as a whole before anything is written.
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var payload SettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid settings payload"))
		return
	}

	if len(payload.PlacementIDs) != domain.CheckpointCount {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "exactly one placement id per checkpoint is required"))
		return
	}

	cfg := domain.Settings{
		KeyExpirationHours: payload.KeyExpirationHours,
		AdURLTemplate:      payload.AdURLTemplate,
		ReferrerAllowList:  payload.ReferrerAllowList,
		WebhookURL:         payload.WebhookURL,
		WebhookInterval:    time.Duration(payload.WebhookIntervalSeconds) * time.Second,
		WebhookEnabled:     payload.WebhookEnabled,
		SystemMessage:      payload.SystemMessage,
		MaintenanceMode:    payload.MaintenanceMode,
		FingerprintPolicy:  payload.FingerprintPolicy,
		AllowExtension:     payload.AllowExtension,
		RateLimitPerHour:   payload.RateLimitPerHour,
	}
	copy(cfg.PlacementIDs[:], payload.PlacementIDs)

	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	if err := h.settings.Update(c.Request.Context(), cfg); err != nil {
		h.logger.Error("update settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to update settings"))
		return
	}

	updated, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.logger.Error("reload settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to reload settings"))
		return
	}

	c.JSON(http.StatusOK, newSettingsPayload(*updated))
}

// Cleanup runs an on-demand sweep pass.
func (h *AdminHandler) Cleanup(c *gin.Context) {
	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("cleanup sweep", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to run cleanup"))
		return
	}

	c.JSON(http.StatusOK, SweepResponse{
		TokensDeleted:   result.TokensDeleted,
		SessionsDropped: result.SessionsDropped,
	})
}
