package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/infra/config"
	"github.com/keygate-labs/keygate/internal/infra/security"
)

// AdminAuth guards the admin surface with HTTP basic auth. The configured
// secret is an Argon2id hash; the middleware never sees a stored plaintext.
func AdminAuth(cfg config.AdminSettings, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if cfg.SecretHash == "" {
			logger.Warn("admin surface disabled: no secret hash configured")
			abortUnauthorized(c)
			return
		}

		username, secret, ok := c.Request.BasicAuth()
		if !ok {
			abortUnauthorized(c)
			return
		}

		usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1

		secretMatch, err := security.VerifySecret(secret, cfg.SecretHash)
		if err != nil {
			logger.Error("verify admin secret", zap.Error(err))
			abortUnauthorized(c)
			return
		}

		if !usernameMatch || !secretMatch {
			logger.Warn("admin auth rejected",
				zap.String("client_ip", c.ClientIP()),
				zap.String("trace_id", GetTraceID(c)),
			)
			abortUnauthorized(c)
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="keygate admin"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    "unauthorized",
		"trace_id": GetTraceID(c),
	})
}
