package gateway

import (
	"time"

	echo "github.com/labstack/echo/v5"
)

// ErrorBody is the envelope every gateway error response carries.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorEnvelope wraps ErrorBody under the "error" key.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// writeError responds with the structured error envelope.
func (s *Server) writeError(c *echo.Context, status int, code, message string, details map[string]any) error {
	return c.JSON(status, ErrorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: requestIDFrom(c),
		Timestamp: s.now().UTC(),
	}})
}
