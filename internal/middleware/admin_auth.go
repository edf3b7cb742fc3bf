package middleware

import (
	"net/http"
	"strings"

	"lottery-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TokenValidator verifies admin bearer tokens
type TokenValidator interface {
	ValidateToken(tokenString string) (*handlers.AdminJWTClaims, error)
}

// AdminAuthMiddleware admin bearer-token middleware
type AdminAuthMiddleware struct {
	logger    *logrus.Logger
	validator TokenValidator
}

// NewAdminAuthMiddleware create admin auth middleware
func NewAdminAuthMiddleware(logger *logrus.Logger, validator TokenValidator) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		logger:    logger,
		validator: validator,
	}
}

// RequireAdminAuth rejects requests without a valid admin JWT
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(fields).Warn("Admin auth failed - missing Authorization header")
			a.deny(c, http.StatusUnauthorized, "Authentication required", "MISSING_AUTH_HEADER")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(fields).Warn("Admin auth failed - invalid Authorization format")
			a.deny(c, http.StatusUnauthorized, "Invalid authorization format, need Bearer token", "INVALID_AUTH_FORMAT")
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			a.logger.WithFields(fields).Warn("Admin auth failed - empty token")
			a.deny(c, http.StatusUnauthorized, "Empty token", "EMPTY_TOKEN")
			return
		}

		claims, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			fields["error"] = err.Error()
			a.logger.WithFields(fields).Warn("Admin auth failed - invalid token")
			a.deny(c, http.StatusUnauthorized, "Invalid or expired token", "INVALID_TOKEN")
			return
		}

		if claims.Role != "admin" {
			fields["role"] = claims.Role
			a.logger.WithFields(fields).Warn("Admin auth failed - insufficient permissions")
			a.deny(c, http.StatusForbidden, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS")
			return
		}

		c.Set("admin_username", claims.Username)
		c.Set("admin_role", claims.Role)
		c.Next()
	}
}

func (a *AdminAuthMiddleware) deny(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
