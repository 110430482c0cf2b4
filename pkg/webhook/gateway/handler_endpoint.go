package gateway

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/webhook/endpoint"
)

// createEndpointHandler handles POST /endpoints.
func (s *Server) createEndpointHandler(c *echo.Context) error {
	var ep endpoint.Endpoint
	if err := c.Bind(&ep); err != nil {
		return s.writeError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	}

	created, err := s.endpoints.Create(c.Request().Context(), &ep)
	if err != nil {
		return s.mapEndpointError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// getEndpointHandler handles GET /endpoints/:id.
func (s *Server) getEndpointHandler(c *echo.Context) error {
	ep, err := s.endpoints.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapEndpointError(c, err)
	}
	return c.JSON(http.StatusOK, ep)
}

// listEndpointsHandler handles GET /endpoints.
func (s *Server) listEndpointsHandler(c *echo.Context) error {
	filter := endpoint.ListFilter{
		TenantID:      c.QueryParam("tenant_id"),
		TargetAgentID: c.QueryParam("target_agent_id"),
	}
	switch c.QueryParam("enabled") {
	case "true":
		enabled := true
		filter.Enabled = &enabled
	case "false":
		enabled := false
		filter.Enabled = &enabled
	}

	list, err := s.endpoints.List(c.Request().Context(), filter)
	if err != nil {
		return s.mapEndpointError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// updateEndpointHandler handles PUT /endpoints/:id.
func (s *Server) updateEndpointHandler(c *echo.Context) error {
	var ep endpoint.Endpoint
	if err := c.Bind(&ep); err != nil {
		return s.writeError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	}

	updated, err := s.endpoints.Update(c.Request().Context(), c.Param("id"), &ep)
	if err != nil {
		return s.mapEndpointError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// deleteEndpointHandler handles DELETE /endpoints/:id.
func (s *Server) deleteEndpointHandler(c *echo.Context) error {
	if err := s.endpoints.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapEndpointError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) mapEndpointError(c *echo.Context, err error) error {
	var validErr *endpoint.ValidationError
	if errors.As(err, &validErr) {
		return s.writeError(c, http.StatusBadRequest, "invalid_endpoint_config", validErr.Error(),
			map[string]any{"field": validErr.Field})
	}
	if errors.Is(err, endpoint.ErrNotFound) {
		return s.writeError(c, http.StatusNotFound, "endpoint_not_found", "endpoint not found", nil)
	}
	return s.writeError(c, http.StatusInternalServerError, "internal_error", "internal server error", nil)
}
