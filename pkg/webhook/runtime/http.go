package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// HTTPRuntime invokes the agent runtime over JSON HTTP.
type HTTPRuntime struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRuntime creates an adapter for the runtime at baseURL. The
// caller controls per-attempt budgets through the request context, so
// the underlying client carries no timeout of its own.
func NewHTTPRuntime(baseURL string) *HTTPRuntime {
	return &HTTPRuntime{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Invoke posts the input to /v1/invoke and decodes the output.
// Transport failures map to ErrConnection and deadline hits to
// ErrTimeout so the trigger's retry policy can classify them.
func (r *HTTPRuntime) Invoke(ctx context.Context, input AgentInput) (Output, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, &InvokeError{AgentID: input.AgentID, Err: fmt.Errorf("encode input: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, &InvokeError{AgentID: input.AgentID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &InvokeError{AgentID: input.AgentID, Err: classifyTransportError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
			return nil, &InvokeError{AgentID: input.AgentID,
				Err: fmt.Errorf("%w: runtime returned %d: %s", ErrConnection, resp.StatusCode, string(data))}
		}
		return nil, &InvokeError{AgentID: input.AgentID,
			Err: fmt.Errorf("runtime returned %d: %s", resp.StatusCode, string(data))}
	}

	var out Output
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &InvokeError{AgentID: input.AgentID, Err: fmt.Errorf("decode output: %w", err)}
	}
	return out, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
