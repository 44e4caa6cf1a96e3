// Package middleware provides the HTTP middleware for tenant authentication,
// admin authorization and request telemetry.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth middleware for downstream handlers.
const (
	ContextTenantID  = "tenant_id"
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

// JWTClaims represents the JWT token claims. TenantID is the authorization
// boundary: every repository query downstream is scoped by it.
type JWTClaims struct {
	// TenantID identifies the agency the user belongs to.
	TenantID string `json:"tenant_id"`
	// UserID is the user identifier.
	UserID string `json:"user_id"`
	// Email is the user email.
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthMiddleware provides JWT tenant authentication middleware.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware creates a new authentication middleware.
//
// Parameters:
//   secretKey: Secret key for signing tokens.
//
// Returns:
//   *AuthMiddleware: Initialized middleware.
func NewAuthMiddleware(secretKey string) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: []byte(secretKey),
	}
}

// RequireTenant validates the Bearer token and binds its tenant scope to the
// request context. Tokens without a tenant claim are rejected: there is no
// meaningful request against the CRM data without one.
//
// Returns:
//   gin.HandlerFunc: Gin handler.
func (am *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Check Bearer prefix (case-insensitive as per RFC 6750)
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := tokenParts[1]
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := am.parseClaims(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
				c.Abort()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if claims.TenantID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token missing tenant scope"})
			c.Abort()
			return
		}

		c.Set(ContextTenantID, claims.TenantID)
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// TenantID returns the tenant bound to the request by RequireTenant. The
// empty string means the route ran outside the tenant-auth group.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantID)
}

// GenerateToken creates a new tenant-scoped JWT token for a user.
//
// Parameters:
//   tenantID: Tenant the user belongs to.
//   userID: User identifier.
//   email: User email.
//   duration: Token validity duration.
//
// Returns:
//   string: Signed token string.
//   error: Error if generation fails.
func (am *AuthMiddleware) GenerateToken(tenantID, userID, email string, duration time.Duration) (string, error) {
	claims := &JWTClaims{
		TenantID: tenantID,
		UserID:   userID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(am.secretKey)
}

// ValidateToken validates a JWT token and returns its claims.
//
// Parameters:
//   tokenString: Token string to validate.
//
// Returns:
//   *JWTClaims: Token claims.
//   error: Error if validation fails.
func (am *AuthMiddleware) ValidateToken(tokenString string) (*JWTClaims, error) {
	return am.parseClaims(tokenString)
}

func (am *AuthMiddleware) parseClaims(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return am.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
