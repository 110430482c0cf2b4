// Package api exposes the memory engine over HTTP so agent runtimes
// can read and write memories without linking the engine in-process.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/database"
	"github.com/owlhub/platform/pkg/memory"
	"github.com/owlhub/platform/pkg/memory/security"
	"github.com/owlhub/platform/pkg/memory/store"
	"github.com/owlhub/platform/pkg/version"
)

// Server is the memory engine HTTP server.
type Server struct {
	echo    *echo.Echo
	http    *http.Server
	service *memory.Service
	db      *database.Client

	mu           sync.Mutex
	degradations []memory.DegradationEvent
}

// NewServer wires the memory routes over the service.
func NewServer(addr string, service *memory.Service) *Server {
	s := &Server{
		echo:    echo.New(),
		service: service,
	}
	s.registerRoutes()
	s.http = &http.Server{Addr: addr, Handler: s.echo}
	return s
}

func (s *Server) registerRoutes() {
	s.echo.POST("/api/v1/memory/remember", s.rememberHandler)
	s.echo.POST("/api/v1/memory/recall", s.recallHandler)
	s.echo.GET("/api/v1/memory/snapshot", s.snapshotHandler)
	s.echo.POST("/api/v1/memory/compact", s.compactHandler)
	s.echo.GET("/api/v1/memory/degradations", s.degradationsHandler)
	s.echo.GET("/health", s.healthHandler)
}

// Handler exposes the routed handler (tests only).
func (s *Server) Handler() http.Handler { return s.echo }

// SetDatabaseClient wires the database into the health endpoint when the
// store is Postgres-backed.
func (s *Server) SetDatabaseClient(client *database.Client) { s.db = client }

// RecordDegradation implements memory.DegradationRecorder so the
// engine's fallback activations are observable over the API.
func (s *Server) RecordDegradation(_ context.Context, event memory.DegradationEvent) {
	s.mu.Lock()
	s.degradations = append(s.degradations, event)
	s.mu.Unlock()
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// RememberRequest is the remember body.
type RememberRequest struct {
	AgentID     string   `json:"agent_id"`
	TenantID    string   `json:"tenant_id"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags,omitempty"`
	Sensitivity string   `json:"sensitivity,omitempty"`
}

// RecallRequest is the recall body.
type RecallRequest struct {
	AgentID  string   `json:"agent_id"`
	TenantID string   `json:"tenant_id"`
	Query    string   `json:"query"`
	Limit    int      `json:"limit,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Channel  string   `json:"channel,omitempty"`
}

// SnapshotResponse carries one assembled context snapshot.
type SnapshotResponse struct {
	PromptFragment string   `json:"prompt_fragment"`
	EntryIDs       []string `json:"entry_ids"`
}

func (s *Server) rememberHandler(c *echo.Context) error {
	var req RememberRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := s.service.Remember(c.Request().Context(), memory.RememberInput{
		AgentID:     req.AgentID,
		TenantID:    req.TenantID,
		Content:     req.Content,
		Tags:        req.Tags,
		Sensitivity: req.Sensitivity,
	})
	if err != nil {
		return mapMemoryError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) recallHandler(c *echo.Context) error {
	var req RecallRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	channel := security.ChannelInternal
	if req.Channel != "" {
		channel = security.Channel(req.Channel)
	}
	entries, err := s.service.Recall(c.Request().Context(), memory.RecallInput{
		AgentID:  req.AgentID,
		TenantID: req.TenantID,
		Query:    req.Query,
		Limit:    req.Limit,
		Tags:     req.Tags,
		Channel:  channel,
	})
	if err != nil {
		return mapMemoryError(err)
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) snapshotHandler(c *echo.Context) error {
	snap, err := s.service.BuildSnapshot(c.Request().Context(),
		c.QueryParam("agent_id"), c.QueryParam("tenant_id"),
		c.QueryParam("trigger"), c.QueryParam("focus"))
	if err != nil {
		return mapMemoryError(err)
	}
	return c.JSON(http.StatusOK, SnapshotResponse{
		PromptFragment: snap.PromptFragment,
		EntryIDs:       snap.EntryIDs,
	})
}

// CompactRequest scopes one compaction run.
type CompactRequest struct {
	AgentID  string `json:"agent_id"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) compactHandler(c *echo.Context) error {
	var req CompactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.service.Compact(c.Request().Context(), req.AgentID, req.TenantID)
	if err != nil {
		return mapMemoryError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) degradationsHandler(c *echo.Context) error {
	s.mu.Lock()
	events := append([]memory.DegradationEvent{}, s.degradations...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, events)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)
	if s.db != nil {
		if _, err := database.Health(reqCtx, s.db.Pool()); err != nil {
			status = "unhealthy"
			checks["database"] = err.Error()
		} else {
			checks["database"] = "healthy"
		}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

func mapMemoryError(err error) *echo.HTTPError {
	if errors.Is(err, memory.ErrEmptyContent) ||
		errors.Is(err, memory.ErrInvalidSensitivity) ||
		errors.Is(err, store.ErrBlankScope) ||
		errors.Is(err, store.ErrContentTooLong) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
