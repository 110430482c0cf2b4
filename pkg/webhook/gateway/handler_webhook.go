package gateway

import (
	"errors"
	"io"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/webhook/endpoint"
	"github.com/owlhub/platform/pkg/webhook/events"
	"github.com/owlhub/platform/pkg/webhook/governance"
	"github.com/owlhub/platform/pkg/webhook/runtime"
	"github.com/owlhub/platform/pkg/webhook/transform"
	"github.com/owlhub/platform/pkg/webhook/trigger"
	"github.com/owlhub/platform/pkg/webhook/validate"
)

const (
	signatureHeader      = "X-Signature"
	idempotencyKeyHeader = "X-Idempotency-Key"
)

// AcceptedResponse is the 202 body for an accepted webhook.
type AcceptedResponse struct {
	ExecutionID string         `json:"execution_id"`
	Status      trigger.Status `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
}

// triggerWebhookHandler handles POST /webhooks/:endpoint_id. The phases
// run in order: rate limit, validation, transformation, governance,
// execution; each emits an event threaded by request id.
func (s *Server) triggerWebhookHandler(c *echo.Context) error {
	start := s.now()
	ctx := c.Request().Context()
	requestID := requestIDFrom(c)
	endpointID := c.Param("endpoint_id")
	sourceIP := c.RealIP()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.writeError(c, http.StatusBadRequest, "invalid_payload", "failed to read request body", nil)
	}

	s.monitor.RecordRequest()
	s.events.Append(ctx, events.Event{
		EndpointID: endpointID,
		Type:       events.TypeRequest,
		RequestID:  requestID,
		SourceIP:   sourceIP,
		UserAgent:  c.Request().UserAgent(),
	})

	if !s.ipLimiter.allow("ip:"+sourceIP) || !s.endpointLimiter.allow("endpoint:"+endpointID) {
		s.finishRequest(start, false)
		return s.writeError(c, http.StatusTooManyRequests, "rate_limited",
			"request rate exceeds the per-minute limit", nil)
	}

	ep, verr := s.validator.Validate(ctx, validate.Request{
		EndpointID:    endpointID,
		Authorization: c.Request().Header.Get("Authorization"),
		Signature:     c.Request().Header.Get(signatureHeader),
		ContentType:   c.Request().Header.Get("Content-Type"),
		Body:          body,
	})
	if verr != nil {
		s.events.Append(ctx, events.Event{
			EndpointID: endpointID,
			Type:       events.TypeValidation,
			RequestID:  requestID,
			Status:     "failure",
			Error:      verr.Message,
		})
		s.finishRequest(start, false)
		return s.writeError(c, verr.StatusCode, verr.Code, verr.Message, verr.Details)
	}
	s.events.Append(ctx, events.Event{
		TenantID:   ep.TenantID,
		EndpointID: endpointID,
		Type:       events.TypeValidation,
		RequestID:  requestID,
		Status:     "success",
	})

	parameters, terr := s.transformPayload(ep, c.Request().Header.Get("Content-Type"), body)
	if terr != nil {
		s.events.Append(ctx, events.Event{
			TenantID:   ep.TenantID,
			EndpointID: endpointID,
			Type:       events.TypeTransformation,
			RequestID:  requestID,
			Status:     "failure",
			Error:      terr.Error(),
		})
		s.finishRequest(start, false)
		if errors.Is(terr, transform.ErrRuleNotFound) {
			return s.writeError(c, http.StatusInternalServerError, "transformation_rule_missing",
				terr.Error(), nil)
		}
		return s.writeError(c, http.StatusBadRequest, "invalid_payload", terr.Error(), nil)
	}
	s.events.Append(ctx, events.Event{
		TenantID:   ep.TenantID,
		EndpointID: endpointID,
		Type:       events.TypeTransformation,
		RequestID:  requestID,
		Status:     "success",
	})

	if s.governance != nil {
		check := governance.Request{
			TenantID:   ep.TenantID,
			EndpointID: ep.ID,
			AgentID:    ep.TargetAgentID,
			RequestID:  requestID,
		}
		for _, decision := range []governance.Decision{
			s.governance.CheckPermission(ctx, check),
			s.governance.CheckRateLimit(ctx, check),
		} {
			if !decision.Allowed {
				s.finishRequest(start, false)
				return s.writeError(c, decision.StatusCode, "governance_denied",
					decision.Reason, decision.PolicyLimits)
			}
		}
	}

	result := s.trigger.Trigger(ctx, runtime.AgentInput{
		AgentID:    ep.TargetAgentID,
		TenantID:   ep.TenantID,
		RequestID:  requestID,
		Parameters: parameters,
	}, trigger.Options{
		Mode:           ep.Mode,
		TimeoutSeconds: ep.TimeoutSeconds,
		IdempotencyKey: c.Request().Header.Get(idempotencyKeyHeader),
		RetryPolicy:    ep.RetryPolicy,
	})

	succeeded := result.Status != trigger.StatusFailed
	executionStatus := "success"
	if !succeeded {
		executionStatus = "failure"
	}
	s.events.Append(ctx, events.Event{
		TenantID:   ep.TenantID,
		EndpointID: endpointID,
		Type:       events.TypeExecution,
		RequestID:  requestID,
		Status:     executionStatus,
		DurationMs: float64(s.now().Sub(start)) / float64(time.Millisecond),
		Data:       map[string]any{"execution_id": result.ExecutionID, "status": string(result.Status)},
		Error:      result.Error,
	})
	s.finishRequest(start, succeeded)

	if !succeeded {
		return s.writeError(c, result.StatusCode, "execution_failed", result.Error,
			map[string]any{"execution_id": result.ExecutionID})
	}
	return c.JSON(http.StatusAccepted, &AcceptedResponse{
		ExecutionID: result.ExecutionID,
		Status:      result.Status,
		Timestamp:   s.now().UTC(),
	})
}

// transformPayload parses the body and applies the endpoint's rule when
// one is configured; otherwise the parsed payload is the parameters.
func (s *Server) transformPayload(ep *endpoint.Endpoint, contentType string, body []byte) (map[string]any, error) {
	payload, err := transform.ParseBody(contentType, body)
	if err != nil {
		return nil, err
	}
	if ep.TransformationRuleID == "" {
		return payload, nil
	}
	rule, err := s.rules.Get(ep.TransformationRuleID)
	if err != nil {
		return nil, err
	}
	return transform.Apply(rule, payload)
}

func (s *Server) finishRequest(start time.Time, success bool) {
	s.monitor.RecordStatus(success)
	s.monitor.RecordResponseTime(float64(s.now().Sub(start)) / float64(time.Millisecond))
}
