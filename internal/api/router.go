package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/adamscao/vpnaccess/internal/api/handlers"
	"github.com/adamscao/vpnaccess/internal/api/middleware"
	"github.com/adamscao/vpnaccess/internal/config"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	svc handlers.AccessService,
	gatherer prometheus.Gatherer,
	log logrus.FieldLogger,
) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))

	// Create handlers
	adminHandler := handlers.NewAdminHandler(svc, log)
	hookHandler := handlers.NewHookHandler(svc)

	// API v1 routes
	v1 := router.Group("/v1/vpn")
	{
		// Called by the daemon's auth script with the user's one-time code
		v1.POST("/validate-mfa", hookHandler.ValidateMFA)

		hooks := v1.Group("")
		hooks.Use(middleware.HookAuth(cfg.Hook.Token))
		{
			hooks.POST("/events", hookHandler.RecordEvent)
		}

		// Admin endpoints (require admin token)
		admin := v1.Group("")
		admin.Use(middleware.AdminAuth(cfg.Admin.Token))
		{
			admin.GET("/users", adminHandler.ListActive)
			admin.POST("/users/:userId/generate", adminHandler.GenerateAccess)
			admin.PUT("/users/:userId/revoke", adminHandler.RevokeAccess)
			admin.GET("/users/:userId/history", adminHandler.History)
			admin.GET("/status", adminHandler.Status)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	return &Server{
		router: router,
		config: cfg,
	}
}

// HTTPServer returns an http.Server serving the router on the configured
// address
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
