// Package server is the registry REST API: skill publication and
// retrieval, the review workflow, moderation, statistics export, and a
// mock OAuth2 token surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/registry/audit"
	"github.com/owlhub/platform/pkg/registry/index"
	"github.com/owlhub/platform/pkg/registry/manifest"
	"github.com/owlhub/platform/pkg/registry/moderation"
	"github.com/owlhub/platform/pkg/registry/review"
	"github.com/owlhub/platform/pkg/registry/stats"
)

// Dependencies are the registry components the server composes.
type Dependencies struct {
	Reviews    *review.Store
	Stats      *stats.Tracker
	Audit      *audit.Log
	Moderation *moderation.Service
}

// Server is the registry HTTP server.
type Server struct {
	cfg  *config.RegistryServerConfig
	echo *echo.Echo
	http *http.Server

	auth       *AuthService
	writer     *index.Writer
	reviews    *review.Store
	stats      *stats.Tracker
	audit      *audit.Log
	moderation *moderation.Service
}

// NewServer wires the registry routes over the given components.
func NewServer(cfg *config.RegistryServerConfig, deps Dependencies) *Server {
	s := &Server{
		cfg:        cfg,
		echo:       echo.New(),
		auth:       NewAuthService(cfg.TokenTTL),
		writer:     index.NewWriter(cfg.IndexFile),
		reviews:    deps.Reviews,
		stats:      deps.Stats,
		audit:      deps.Audit,
		moderation: deps.Moderation,
	}
	s.registerRoutes()

	s.http = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.echo,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.echo.POST("/api/v1/auth/token", s.issueTokenHandler)
	s.echo.GET("/api/v1/auth/me", s.whoAmIHandler, s.requireAuth)
	s.echo.POST("/api/v1/auth/api-keys", s.createAPIKeyHandler, s.requireAuth)

	s.echo.GET("/api/v1/skills", s.listSkillsHandler)
	s.echo.GET("/api/v1/skills/:publisher/:name", s.getSkillHandler)
	s.echo.POST("/api/v1/skills", s.publishSkillHandler, s.requireAuth)
	s.echo.PUT("/api/v1/skills/:publisher/:name/versions/:version/state",
		s.setVersionStateHandler, s.requireAuth, s.requireAdmin)
	s.echo.POST("/api/v1/skills/:publisher/:name/takedown",
		s.takedownHandler, s.requireAuth, s.requireAdmin)

	s.echo.GET("/api/v1/admin/blacklist", s.listBlacklistHandler, s.requireAuth, s.requireAdmin)
	s.echo.POST("/api/v1/admin/blacklist", s.addBlacklistHandler, s.requireAuth, s.requireAdmin)
	s.echo.DELETE("/api/v1/admin/blacklist", s.removeBlacklistHandler, s.requireAuth, s.requireAdmin)

	s.echo.GET("/api/v1/reviews/pending", s.pendingReviewsHandler, s.requireAuth, s.requireAdmin)
	s.echo.POST("/api/v1/reviews/:id/approve", s.approveReviewHandler, s.requireAuth, s.requireAdmin)
	s.echo.POST("/api/v1/reviews/:id/reject", s.rejectReviewHandler, s.requireAuth, s.requireAdmin)
	s.echo.POST("/api/v1/reviews/:id/appeal", s.appealReviewHandler, s.requireAuth)

	s.echo.GET("/api/v1/statistics/export", s.exportStatisticsHandler, s.requireAuth, s.requireAdmin)
}

// Handler exposes the routed handler (tests only).
func (s *Server) Handler() http.Handler { return s.echo }

// Auth exposes the token service (tests and embedding binaries).
func (s *Server) Auth() *AuthService { return s.auth }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// mapRegistryError maps component errors to HTTP error responses.
func mapRegistryError(err error) *echo.HTTPError {
	var validErr *manifest.ValidationErrors
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, index.ErrEntryNotFound) ||
		errors.Is(err, review.ErrNotFound) ||
		errors.Is(err, moderation.ErrEntryNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, review.ErrConflictingVerdict) || errors.Is(err, review.ErrNotRejected) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected registry error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
