package gateway

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/webhook/events"
)

// healthHandler handles GET /health. Unhealthy maps to 503 so
// orchestrators can act on the status code alone.
func (s *Server) healthHandler(c *echo.Context) error {
	report := s.monitor.Health(c.Request().Context())
	status := http.StatusOK
	if report.Status == events.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

// metricsHandler handles GET /metrics.
func (s *Server) metricsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.Metrics())
}

// listEventsHandler handles GET /events.
func (s *Server) listEventsHandler(c *echo.Context) error {
	filter := events.Filter{
		TenantID:   c.QueryParam("tenant_id"),
		EndpointID: c.QueryParam("endpoint_id"),
		RequestID:  c.QueryParam("request_id"),
		Type:       events.EventType(c.QueryParam("event_type")),
		Status:     c.QueryParam("status"),
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return s.writeError(c, http.StatusBadRequest, "invalid_request", "from must be RFC 3339", nil)
		}
		filter.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return s.writeError(c, http.StatusBadRequest, "invalid_request", "to must be RFC 3339", nil)
		}
		filter.To = t
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	matched := s.events.Query(c.Request().Context(), filter)
	if matched == nil {
		matched = []events.Event{}
	}
	return c.JSON(http.StatusOK, matched)
}

// executionStatusHandler handles GET /executions/:execution_id.
func (s *Server) executionStatusHandler(c *echo.Context) error {
	result, ok := s.trigger.Result(c.Param("execution_id"))
	if !ok {
		return s.writeError(c, http.StatusNotFound, "execution_not_found", "execution not found", nil)
	}
	return c.JSON(http.StatusOK, result)
}
