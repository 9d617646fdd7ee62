package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/transport/http/middleware"
	"github.com/keygate-labs/keygate/internal/usecase"
)

// APIHandler exposes the machine-facing endpoints: key validation for
// downstream clients, key creation for completed visitors, and aggregate
// stats.
type APIHandler struct {
	keys   *usecase.KeyService
	logger *zap.Logger
}

// NewAPIHandler constructs an API handler.
func NewAPIHandler(keys *usecase.KeyService, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{keys: keys, logger: logger}
}

// RegisterRoutes binds the API routes to the provided router group. The
// limit middlewares guard the endpoints abusable by downstream clients.
func (h *APIHandler) RegisterRoutes(r *gin.RouterGroup, limitMiddlewares ...gin.HandlerFunc) {
	if r == nil {
		return
	}

	validateHandlers := append([]gin.HandlerFunc{}, limitMiddlewares...)
	validateHandlers = append(validateHandlers, h.ValidateKey)
	r.POST("/validate-key", validateHandlers...)
	r.GET("/validate-key", validateHandlers...)

	createHandlers := append([]gin.HandlerFunc{}, limitMiddlewares...)
	createHandlers = append(createHandlers, h.CreateKey)
	r.POST("/create-key", createHandlers...)

	r.GET("/stats", h.Stats)
}

// ValidateKey checks a presented access key. The status contract is fixed:
// 404 for unknown keys, 410 for expired ones, 403 for keys that are revoked
// or whose funnel never completed.
func (h *APIHandler) ValidateKey(c *gin.Context) {
	var req ValidateKeyRequest
	if c.Request.Method == http.MethodGet {
		req.Key = c.Query("key")
		if req.Key == "" {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "key is required"))
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "key is required"))
		return
	}

	token, err := h.keys.ValidateKey(c.Request.Context(), req.Key)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrKeyNotFound, Status: http.StatusNotFound, Message: "key not found"},
			{Err: usecase.ErrExpired, Status: http.StatusGone, Message: "key expired"},
			{Err: usecase.ErrKeyRevoked, Status: http.StatusForbidden, Message: "key revoked"},
			{Err: usecase.ErrStageIncomplete, Status: http.StatusForbidden, Message: "key not activated"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to validate key")
		return
	}

	// Remaining time is computed from the touch the validation just recorded
	// so the response does not depend on handler wall-clock reads.
	remaining := int(token.RemainingTTL(token.LastAccessedAt) / time.Minute)

	c.JSON(http.StatusOK, ValidateKeyResponse{
		Valid:            true,
		ExpiresAt:        token.ExpiresAt,
		RemainingMinutes: remaining,
	})
}

// CreateKey issues the access key for the calling identity once the funnel is
// complete. Replays return the already-issued key.
func (h *APIHandler) CreateKey(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "identity not resolved"))
		return
	}

	token, err := h.keys.IssueKey(c.Request.Context(), identity)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrStageIncomplete, Status: http.StatusForbidden, Message: "checkpoints incomplete"},
			{Err: usecase.ErrTokenNotFound, Status: http.StatusNotFound, Message: "token not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to issue key")
		return
	}

	response := AccessKeyResponse{ExpiresAt: token.ExpiresAt}
	if token.KeyValue != nil {
		response.Key = *token.KeyValue
	}
	if token.IssuedAt != nil {
		response.IssuedAt = *token.IssuedAt
	}

	c.JSON(http.StatusOK, response)
}

// Stats returns aggregate token counts.
func (h *APIHandler) Stats(c *gin.Context) {
	stats, err := h.keys.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("collect stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to collect stats"))
		return
	}

	c.JSON(http.StatusOK, newStatsResponse(stats))
}

func newStatsResponse(stats domain.TokenStats) StatsResponse {
	return StatsResponse{
		Total:     stats.Total,
		Active:    stats.Active,
		Completed: stats.Completed,
		Expired:   stats.Expired,
	}
}
