package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngenohkevin/portguard/config"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	handlers   *Handlers
	auth       *AuthService
	limiter    *RateLimiter
	httpServer *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) *Server {
	// Set Gin mode based on log level
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		router:   gin.New(),
		handlers: NewHandlers(cfg, deps),
		auth:     NewAuthService(cfg.APIKey, cfg.JWTSecret),
		limiter:  NewRateLimiter(cfg.RateLimitRPS),
	}

	s.setupMiddleware()
	s.setupRoutes(deps)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggerMiddleware())
	s.router.Use(CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(RateLimitMiddleware(s.limiter))
}

func (s *Server) setupRoutes(deps Deps) {
	// No auth
	s.router.GET("/health", s.handlers.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := s.router.Group("/api")
	if s.cfg.AuthRequired() {
		api.Use(AuthMiddleware(s.auth), RequireScope(ScopeRead))
	}
	{
		api.GET("/info", s.handlers.GetInfo)

		// Ports
		api.GET("/ports", s.handlers.ListPorts)
		api.GET("/ports/range", s.handlers.ScanRange)
		api.GET("/ports/:port", s.handlers.GetPort)
		api.GET("/ports/:port/containers", s.handlers.GetPortContainers)
		api.POST("/ports/:port/kill", s.terminate(s.handlers.KillPort)...)

		// Processes
		api.GET("/processes/range", s.handlers.ProcessesInRange)
		api.GET("/processes/:pid", s.handlers.GetProcess)
		api.POST("/processes/:pid/kill", s.terminate(s.handlers.KillProcess)...)

		// Real-time scans (SSE)
		api.GET("/events", s.handlers.StreamEvents)
	}
}

// terminate guards a kill handler with the terminate scope
func (s *Server) terminate(h gin.HandlerFunc) []gin.HandlerFunc {
	if !s.cfg.AuthRequired() {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{RequireScope(ScopeTerminate), h}
}

// Run starts the HTTP server and blocks until SIGINT or SIGTERM
func (s *Server) Run() error {
	if !s.cfg.AuthRequired() && !s.cfg.IsLoopback() {
		return fmt.Errorf("refusing to serve without API_KEY on non-loopback host %s", s.cfg.Host)
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	go func() {
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
	}()

	if s.cfg.AuthRequired() {
		log.Printf("Starting portguard agent on %s", s.cfg.Addr())
	} else {
		log.Printf("Starting portguard agent on %s without authentication (loopback only)", s.cfg.Addr())
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
