// Package gateway is the HTTP surface of the webhook pipeline. It
// composes validation, transformation, governance, and the execution
// trigger behind a single echo server.
package gateway

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/webhook/endpoint"
	"github.com/owlhub/platform/pkg/webhook/events"
	"github.com/owlhub/platform/pkg/webhook/governance"
	"github.com/owlhub/platform/pkg/webhook/transform"
	"github.com/owlhub/platform/pkg/webhook/trigger"
	"github.com/owlhub/platform/pkg/webhook/validate"
)

// Dependencies are the pipeline components the server composes.
type Dependencies struct {
	Endpoints  *endpoint.Manager
	Rules      *transform.Registry
	Governance *governance.Client
	Trigger    *trigger.Service
	Events     *events.Log
	Monitor    *events.Monitor
}

// Server is the webhook gateway HTTP server.
type Server struct {
	cfg  *config.GatewayConfig
	echo *echo.Echo
	http *http.Server

	endpoints  *endpoint.Manager
	validator  *validate.Validator
	rules      *transform.Registry
	governance *governance.Client
	trigger    *trigger.Service
	events     *events.Log
	monitor    *events.Monitor

	ipLimiter       *slidingLimiter
	endpointLimiter *slidingLimiter

	now func() time.Time
}

// NewServer wires the gateway routes over the given components.
func NewServer(cfg *config.GatewayConfig, deps Dependencies) *Server {
	s := &Server{
		cfg:             cfg,
		echo:            echo.New(),
		endpoints:       deps.Endpoints,
		validator:       validate.NewValidator(deps.Endpoints),
		rules:           deps.Rules,
		governance:      deps.Governance,
		trigger:         deps.Trigger,
		events:          deps.Events,
		monitor:         deps.Monitor,
		ipLimiter:       newSlidingLimiter(cfg.PerIPLimitPerMinute, rateWindow),
		endpointLimiter: newSlidingLimiter(cfg.PerEndpointLimitPerMinute, rateWindow),
		now:             time.Now,
	}

	s.echo.Use(requestID())
	s.echo.Use(securityHeaders())
	s.registerRoutes()

	s.http = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.echo,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.echo.POST("/webhooks/:endpoint_id", s.triggerWebhookHandler)

	s.echo.POST("/endpoints", s.createEndpointHandler)
	s.echo.GET("/endpoints", s.listEndpointsHandler)
	s.echo.GET("/endpoints/:id", s.getEndpointHandler)
	s.echo.PUT("/endpoints/:id", s.updateEndpointHandler)
	s.echo.DELETE("/endpoints/:id", s.deleteEndpointHandler)

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", s.metricsHandler)
	s.echo.GET("/events", s.listEventsHandler)
	s.echo.GET("/executions/:execution_id", s.executionStatusHandler)
}

// Handler exposes the routed handler (tests only).
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.cfg.TLSEnabled {
		return s.http.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
