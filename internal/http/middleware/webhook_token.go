package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	WebhookTokenHeader = "X-Webhook-Token"
	GitLabTokenHeader  = "X-Gitlab-Token"
)

// WebhookToken rejects requests whose shared secret does not match. GitLab
// sends the secret in X-Gitlab-Token; other callers use X-Webhook-Token.
// An empty secret disables the check.
func WebhookToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token := c.GetHeader(WebhookTokenHeader)
		if token == "" {
			token = c.GetHeader(GitLabTokenHeader)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing webhook token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			slog.WarnContext(c.Request.Context(), "webhook token mismatch",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
		c.Next()
	}
}
