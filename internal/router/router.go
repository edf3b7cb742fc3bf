package router

import (
	"net/http"
	"strconv"
	"strings"

	"lottery-backend/internal/config"
	"lottery-backend/internal/handlers"
	"lottery-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers everything the route table binds
type Handlers struct {
	Epoch          *handlers.EpochHandler
	Deposit        *handlers.DepositHandler
	Withdrawal     *handlers.WithdrawalHandler
	Event          *handlers.EventHandler
	Reconciliation *handlers.ReconciliationHandler
	WebSocket      *handlers.WebSocketHandler
	AdminAuth      *handlers.AdminAuthHandler
}

// corsMiddleware CORS middleware; an empty origin list allows every origin
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin":  origin,
					"allowed_origins": allowedOrigins,
					"path":            c.Request.URL.Path,
					"method":          c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if cfg.AllowCredentials && !allowAll {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Next()
	}
}

// SetupRouter build the gin engine with public, admin and auth routes
func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	var corsCfg config.CORSConfig
	var allowedIPs []string
	if cfg != nil {
		corsCfg = cfg.CORS
		allowedIPs = cfg.Admin.AllowedIPs
	}
	r.Use(corsMiddleware(corsCfg))

	logger := logrus.StandardLogger()
	if len(allowedIPs) > 0 {
		logger.WithFields(logrus.Fields{
			"allowed_ips": allowedIPs,
			"count":       len(allowedIPs),
		}).Info("Admin API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, allowedIPs)
	adminAuth := middleware.NewAdminAuthMiddleware(logger, h.AdminAuth)

	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws/events", h.WebSocket.HandleEvents)

	api := r.Group("/api")
	{
		api.POST("/commitments", h.Deposit.ComputeCommitmentHandler)
		api.POST("/deposits", h.Deposit.CreateDepositHandler)
		api.GET("/deposits/:commitment", h.Deposit.GetDepositHandler)
		api.POST("/withdrawals", h.Withdrawal.WithdrawHandler)

		api.GET("/epochs/current", h.Epoch.GetCurrentEpochHandler)
		api.GET("/epochs", h.Epoch.ListEpochsHandler)
		api.GET("/epochs/:id", h.Epoch.GetEpochHandler)
		api.GET("/epochs/:id/events", h.Event.EpochEventsHandler)
		api.GET("/events", h.Event.ListEventsHandler)
		api.GET("/ws/stats", h.WebSocket.StatsHandler)

		// login endpoints are reachable only from whitelisted hosts
		auth := api.Group("/admin", localhostOnly.Restrict())
		{
			auth.POST("/login", h.AdminAuth.AdminLoginHandler)
			auth.POST("/totp/generate", h.AdminAuth.GenerateTOTPSecretHandler)
		}

		lifecycle := api.Group("/epochs", localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
		{
			lifecycle.POST("", h.Epoch.InitializeEpochHandler)
			lifecycle.POST("/lock", h.Epoch.LockPoolHandler)
			lifecycle.POST("/stake", h.Epoch.StartStakingHandler)
			lifecycle.POST("/yield", h.Epoch.AccrueYieldHandler)
			lifecycle.POST("/select-winner", h.Epoch.SelectWinnerHandler)
			lifecycle.POST("/advance", h.Epoch.AdvanceHandler)
			lifecycle.POST("/cross-check", h.Epoch.CrossCheckHandler)
		}

		admin := api.Group("/admin", localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
		{
			admin.GET("/reconciliations", h.Reconciliation.ListReconciliationsHandler)
			admin.GET("/reconciliations/:id", h.Reconciliation.GetReconciliationHandler)
			admin.POST("/reconciliations/:id/resolve", h.Reconciliation.ResolveReconciliationHandler)
			admin.POST("/payouts/:commitment/retry", h.Withdrawal.RetryPayoutHandler)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if !strings.HasPrefix(path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"message":    "Endpoint not found",
				"path":       path,
				"suggestion": "Check /api endpoints for available APIs",
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"message": "API endpoint not found",
			"path":    path,
		})
	})

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		entry := logrus.WithFields(logrus.Fields{
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("🌐 request failed")
			return
		}
		entry.Debug("🌐 request")
	}
}
