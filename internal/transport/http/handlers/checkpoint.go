package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/transport/http/middleware"
	"github.com/keygate-labs/keygate/internal/usecase"
)

// CheckpointHandler serves the browser-facing funnel: the landing page, the
// per-checkpoint ad gates, and the completion callbacks the ad network sends
// visitors back through. Violations on these paths resolve to redirects, never
// API-style errors; the stored token decides where the visitor lands.
type CheckpointHandler struct {
	checkpoints *usecase.CheckpointService
	keys        *usecase.KeyService
	logger      *zap.Logger
}

// NewCheckpointHandler constructs a checkpoint handler.
func NewCheckpointHandler(checkpoints *usecase.CheckpointService, keys *usecase.KeyService, logger *zap.Logger) *CheckpointHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointHandler{checkpoints: checkpoints, keys: keys, logger: logger}
}

// RegisterRoutes binds the funnel routes to the provided router group.
func (h *CheckpointHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/", h.Resume)
	r.GET("/checkpoint/:stage", h.RequestCheckpoint)
	r.GET("/checkpoint/:stage/complete", h.CompleteCheckpoint)
	r.GET("/access", h.AccessPage)
}

// Resume places the visitor at their stored position in the funnel.
func (h *CheckpointHandler) Resume(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "identity not resolved"))
		return
	}

	decision, err := h.checkpoints.Resume(c.Request.Context(), identity)
	if err != nil {
		h.respondFunnelError(c, err, "/")
		return
	}

	c.Redirect(http.StatusFound, decision.Location)
}

// RequestCheckpoint evaluates a visit to checkpoint n. The next pending stage
// sends the visitor out to the ad network; anything else redirects to where
// their token actually stands.
func (h *CheckpointHandler) RequestCheckpoint(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "identity not resolved"))
		return
	}

	stage, ok := parseStage(c.Param("stage"))
	if !ok {
		c.Redirect(http.StatusFound, "/")
		return
	}

	decision, err := h.checkpoints.RequestCheckpoint(c.Request.Context(), identity, stage)
	if err != nil {
		h.respondFunnelError(c, err, "/")
		return
	}

	c.Redirect(http.StatusFound, decision.Location)
}

// CompleteCheckpoint records the ad network return for checkpoint n and moves
// the visitor forward.
func (h *CheckpointHandler) CompleteCheckpoint(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "identity not resolved"))
		return
	}

	stage, ok := parseStage(c.Param("stage"))
	if !ok {
		c.Redirect(http.StatusFound, "/")
		return
	}

	token, err := h.checkpoints.CompleteCheckpoint(c.Request.Context(), identity, stage, c.Request.Referer(), c.Query("token"))
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidReturn) {
			// Send the visitor back through the gate they tried to shortcut.
			c.Redirect(http.StatusFound, fmt.Sprintf("/checkpoint/%d", stage))
			return
		}
		h.respondFunnelError(c, err, "/")
		return
	}

	if token.Stage >= domain.StageFinal {
		c.Redirect(http.StatusFound, "/access")
		return
	}

	c.Redirect(http.StatusFound, fmt.Sprintf("/checkpoint/%d", token.NextStage()))
}

// AccessPage issues (or re-presents) the access key once every checkpoint is
// complete.
func (h *CheckpointHandler) AccessPage(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "identity not resolved"))
		return
	}

	token, err := h.keys.IssueKey(c.Request.Context(), identity)
	if err != nil {
		if errors.Is(err, usecase.ErrStageIncomplete) {
			c.Redirect(http.StatusFound, "/")
			return
		}
		h.respondFunnelError(c, err, "/")
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

// respondFunnelError maps business violations on browser paths. Invalid and
// expired states resolve to a redirect so the visitor re-enters at their
// stored position; only maintenance and infrastructure failures surface a
// status code.
func (h *CheckpointHandler) respondFunnelError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, usecase.ErrMaintenance):
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "service under maintenance"))
	case errors.Is(err, usecase.ErrInvalidTransition), errors.Is(err, usecase.ErrExpired):
		c.Redirect(http.StatusFound, fallback)
	default:
		h.logger.Error("funnel request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "internal error"))
	}
}

func parseStage(raw string) (domain.Stage, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	stage := domain.Stage(n)
	if stage < 1 || stage > domain.StageFinal {
		return 0, false
	}
	return stage, true
}
