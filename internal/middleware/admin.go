package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards the operational endpoints (cache invalidation,
// audit cleanup, webhook registration) with a shared API key.
type AdminMiddleware struct {
	apiKey string
	// keyHash holds a bcrypt hash of the key when ADMIN_API_KEY_HASH is
	// configured, so production deployments never keep the plaintext key
	// in the environment.
	keyHash string
}

// NewAdminMiddleware creates a new admin authentication middleware.
func NewAdminMiddleware() *AdminMiddleware {
	keyHash := os.Getenv("ADMIN_API_KEY_HASH")

	apiKey := os.Getenv("ADMIN_API_KEY")
	if apiKey == "" && keyHash == "" {
		// Use a default key for development (should be changed in production)
		apiKey = "admin-dev-key-change-in-production"
	}

	return &AdminMiddleware{
		apiKey:  apiKey,
		keyHash: keyHash,
	}
}

// RequireAdminAuth middleware validates admin API keys. The key is accepted
// as a Bearer token, an X-API-Key header, or an api_key query parameter; the
// query form exists because webhook callbacks cannot set headers.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && tokenParts[0] == "Bearer" {
				if am.ValidateAdminKey(tokenParts[1]) {
					c.Next()
					return
				}
			}
		}

		if am.ValidateAdminKey(c.GetHeader("X-API-Key")) {
			c.Next()
			return
		}

		if am.ValidateAdminKey(c.Query("api_key")) {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}

// ValidateAdminKey checks a candidate key against the configured credential.
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if key == "" {
		return false
	}
	if am.keyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(am.keyHash), []byte(key)) == nil
	}
	return key == am.apiKey
}
