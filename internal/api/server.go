// Package api assembles the HTTP surface: gin router, auth middleware,
// health and metrics endpoints, and the versioned route groups.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustwork/trustwork-core/internal/api/assessments"
	"github.com/trustwork/trustwork-core/internal/api/catalog"
	"github.com/trustwork/trustwork-core/internal/api/engagements"
	"github.com/trustwork/trustwork-core/internal/api/middleware"
	"github.com/trustwork/trustwork-core/internal/api/profiles"
	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Server owns the router and its handler set.
type Server struct {
	cfg    *config.Config
	db     *repository.DB
	router *gin.Engine
	log    *logger.Logger
}

// Handlers groups the per-domain handler sets mounted under /api/v1.
type Handlers struct {
	Profiles    *profiles.Handler
	Catalog     *catalog.Handler
	Assessments *assessments.Handler
	Engagements *engagements.Handler
}

// NewServer builds the gin engine with all routes mounted.
func NewServer(cfg *config.Config, db *repository.DB, h Handlers, log *logger.Logger) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, db: db, router: router, log: log}

	router.GET("/healthz", s.health)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.Auth))
	h.Profiles.Register(v1)
	h.Catalog.Register(v1)
	h.Assessments.Register(v1)
	h.Engagements.Register(v1)

	return s
}

// Router exposes the underlying gin engine for the HTTP server and tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	if err := s.db.Health(); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		c.JSON(503, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(200, gin.H{"status": "ok"})
}
