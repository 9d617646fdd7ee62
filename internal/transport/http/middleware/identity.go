package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/infra/security"
	"github.com/keygate-labs/keygate/internal/usecase"
)

const (
	// SessionCookieName is the cookie carrying the opaque browser session id.
	SessionCookieName = "kg_session"
	// IdentityKey is the gin context key holding the resolved identity.
	IdentityKey = "identity"

	sessionCookieMaxAge = 7 * 24 * 60 * 60
)

// Identity resolves the per-request identity binding: it reads or mints the
// session cookie, derives the device fingerprint from request headers, and
// verifies the result against the stored session binding. A mismatch under the
// invalidate policy rotates the session so the funnel restarts from stage zero.
func Identity(sessions *usecase.SessionService, secure bool, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookieName)
		if err != nil || sessionID == "" {
			sessionID, err = security.GenerateSessionID()
			if err != nil {
				logger.Error("generate session id", zap.Error(err))
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			setSessionCookie(c, sessionID, secure)
		}

		fingerprint := security.Fingerprint(security.FingerprintInput{
			UserAgent:      c.Request.UserAgent(),
			AcceptLanguage: c.GetHeader("Accept-Language"),
			AcceptEncoding: c.GetHeader("Accept-Encoding"),
		})

		identity := domain.Identity{
			SessionID:   sessionID,
			IP:          c.ClientIP(),
			Fingerprint: fingerprint,
			UserAgent:   c.Request.UserAgent(),
		}

		if sessions != nil {
			if err := sessions.VerifyBinding(c.Request.Context(), identity); err != nil {
				if errors.Is(err, usecase.ErrFingerprintMismatch) {
					rotated, genErr := security.GenerateSessionID()
					if genErr != nil {
						logger.Error("rotate session id", zap.Error(genErr))
						c.AbortWithStatus(http.StatusInternalServerError)
						return
					}
					setSessionCookie(c, rotated, secure)
					identity.SessionID = rotated
				} else {
					logger.Warn("verify session binding", zap.Error(err))
				}
			}
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// IdentityFromContext retrieves the identity stored by the Identity middleware.
func IdentityFromContext(c *gin.Context) (domain.Identity, bool) {
	value, exists := c.Get(IdentityKey)
	if !exists {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

func setSessionCookie(c *gin.Context, sessionID string, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
