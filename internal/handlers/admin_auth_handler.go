package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

const (
	adminRole      = "admin"
	adminIssuer    = "lottery-coordinator-admin"
	defaultJWTTTL  = 12 * time.Hour
	devJWTFallback = "lottery-admin-jwt-secret-default-change-me"
)

// AdminAuthHandler admin login: password + TOTP, answered with a short-lived JWT
type AdminAuthHandler struct {
	username   string
	password   string
	totpSecret string
	jwtSecret  []byte
	ttl        time.Duration
	now        func() time.Time
}

// AdminAuthOptions credentials; empty password or TOTP secret disables login
type AdminAuthOptions struct {
	Username   string
	Password   string
	TOTPSecret string
	JWTSecret  string
	TTL        time.Duration
}

// AdminLoginRequest admin login request
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse admin login response
type AdminLoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Message   string `json:"message"`
}

// AdminJWTClaims admin JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler create admin auth handler
func NewAdminAuthHandler(opts AdminAuthOptions) *AdminAuthHandler {
	if opts.Username == "" {
		opts.Username = "admin"
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultJWTTTL
	}
	if opts.JWTSecret == "" {
		opts.JWTSecret = devJWTFallback
		logrus.Warn("⚠️ [Admin] using the default ADMIN_JWT_SECRET, set it in production")
	}
	if opts.Password == "" || opts.TOTPSecret == "" {
		logrus.Warn("⚠️ [Admin] ADMIN_PASSWORD or ADMIN_TOTP_SECRET not set, admin login disabled")
	}
	return &AdminAuthHandler{
		username:   opts.Username,
		password:   opts.Password,
		totpSecret: opts.TOTPSecret,
		jwtSecret:  []byte(opts.JWTSecret),
		ttl:        opts.TTL,
		now:        time.Now,
	}
}

// NewAdminAuthHandlerFromEnv credentials from ADMIN_PASSWORD, ADMIN_TOTP_SECRET and ADMIN_JWT_SECRET
func NewAdminAuthHandlerFromEnv(username string) *AdminAuthHandler {
	return NewAdminAuthHandler(AdminAuthOptions{
		Username:   username,
		Password:   os.Getenv("ADMIN_PASSWORD"),
		TOTPSecret: os.Getenv("ADMIN_TOTP_SECRET"),
		JWTSecret:  os.Getenv("ADMIN_JWT_SECRET"),
	})
}

// AdminLoginHandler POST /api/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.password == "" || h.totpSecret == "" {
		c.JSON(http.StatusServiceUnavailable, AdminLoginResponse{
			Success: false,
			Message: "Admin login not configured",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) == 1
	if !userOK || !passOK {
		logrus.WithField("client_ip", c.ClientIP()).Warn("🚫 [Admin] login rejected: bad credentials")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	valid, err := totp.ValidateCustom(req.TOTPCode, h.totpSecret, h.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		logrus.WithField("client_ip", c.ClientIP()).Warn("🚫 [Admin] login rejected: bad TOTP code")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, expiresAt, err := h.issueToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	logrus.WithField("username", req.Username).Info("🔐 [Admin] login succeeded")
	c.JSON(http.StatusOK, AdminLoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		Message:   "Login successful",
	})
}

// GenerateTOTPSecretHandler POST /api/admin/totp/generate; only while no secret is configured
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if h.totpSecret != "" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "TOTP secret already configured",
		})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Lottery Coordinator",
		AccountName: h.username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "Save this secret to ADMIN_TOTP_SECRET and restart the coordinator.",
	})
}

func (h *AdminAuthHandler) issueToken(username string) (string, time.Time, error) {
	now := h.now()
	expiresAt := now.Add(h.ttl)
	claims := AdminJWTClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    adminIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parse and verify an admin JWT
func (h *AdminAuthHandler) ValidateToken(tokenString string) (*AdminJWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	}, jwt.WithIssuer(adminIssuer), jwt.WithTimeFunc(h.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*AdminJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
