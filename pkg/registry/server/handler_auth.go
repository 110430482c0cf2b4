package server

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// TokenRequest is the mock OAuth2 password grant body.
type TokenRequest struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// APIKeyResponse carries a newly minted key. The key is shown once.
type APIKeyResponse struct {
	APIKey string `json:"api_key"`
}

// issueTokenHandler handles POST /api/v1/auth/token.
func (s *Server) issueTokenHandler(c *echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}
	return c.JSON(http.StatusOK, s.auth.IssueToken(req.Username, req.Role))
}

// whoAmIHandler handles GET /api/v1/auth/me.
func (s *Server) whoAmIHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, identityFrom(c))
}

// createAPIKeyHandler handles POST /api/v1/auth/api-keys.
func (s *Server) createAPIKeyHandler(c *echo.Context) error {
	key := s.auth.CreateAPIKey(identityFrom(c))
	return c.JSON(http.StatusCreated, APIKeyResponse{APIKey: key})
}
