package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clowdy/internal/auth"
)

const ownerIDKey = "owner_id"

// RequireAuth validates the bearer token on every request and stores the
// authenticated owner id in the request context.
func RequireAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))

		ownerID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			var detail string
			switch {
			case errors.Is(err, auth.ErrNoToken):
				detail = "Missing auth token"
			case errors.Is(err, auth.ErrTokenExpired):
				detail = "Token expired"
			default:
				detail = "Invalid token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
			return
		}

		c.Set(ownerIDKey, ownerID)
		c.Next()
	}
}

// WithOwner forces a fixed owner id on every request. It stands in for
// RequireAuth when no identity provider is configured: single-user dev
// deployments and handler tests.
func WithOwner(ownerID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ownerIDKey, ownerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner id, or "" when the request did
// not pass RequireAuth.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerIDKey)
}
