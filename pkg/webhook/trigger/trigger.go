package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/owlhub/platform/pkg/webhook/endpoint"
	"github.com/owlhub/platform/pkg/webhook/runtime"
)

// Options tune one trigger call. They come from the resolved endpoint
// plus request headers.
type Options struct {
	Mode           endpoint.ExecutionMode
	TimeoutSeconds *float64
	IdempotencyKey string
	RetryPolicy    *endpoint.RetryPolicy
}

// Service triggers runtime executions. Results are indexed by
// execution id for status queries; triggers sharing an idempotency key
// are serialized under a per-key lock and share one result until the
// cache entry expires.
type Service struct {
	runtime runtime.Runtime
	idem    IdempotencyStore
	locks   *keyLocks
	pool    *Pool
	ttl     time.Duration

	mu      sync.RWMutex
	results map[string]*ExecutionResult

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a trigger service. The pool may be nil when async
// mode is never used; cacheTTL ≤ 0 falls back to DefaultIdempotencyTTL.
func NewService(rt runtime.Runtime, idem IdempotencyStore, pool *Pool, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = DefaultIdempotencyTTL
	}
	return &Service{
		runtime: rt,
		idem:    idem,
		locks:   newKeyLocks(),
		pool:    pool,
		ttl:     cacheTTL,
		results: make(map[string]*ExecutionResult),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetNowFunc overrides the clock (tests only).
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// SetSleepFunc overrides the retry backoff sleeper (tests only).
func (s *Service) SetSleepFunc(sleep func(ctx context.Context, d time.Duration) error) {
	s.sleep = sleep
}

// Trigger runs input against the runtime per opts. All outcomes,
// including failures, are reported through the result.
func (s *Service) Trigger(ctx context.Context, input runtime.AgentInput, opts Options) *ExecutionResult {
	if key := opts.IdempotencyKey; key != "" {
		unlock := s.locks.lock(key)
		defer unlock()

		if cached := s.cachedResult(ctx, key); cached != nil {
			return cached
		}
		result := s.execute(ctx, input, opts)
		// Success and failure are both cached so repeats share the verdict.
		if err := s.idem.Set(ctx, key, result, s.ttl); err != nil {
			slog.Warn("Failed to cache trigger result",
				"idempotency_key", key, "execution_id", result.ExecutionID, "error", err)
		}
		return result
	}
	return s.execute(ctx, input, opts)
}

// Result returns the indexed result for an execution id.
func (s *Service) Result(executionID string) (*ExecutionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[executionID]
	if !ok {
		return nil, false
	}
	return result.Clone(), true
}

func (s *Service) cachedResult(ctx context.Context, key string) *ExecutionResult {
	cached, err := s.idem.Get(ctx, key)
	if err != nil {
		// A degraded cache must not block triggers; treat as a miss.
		slog.Warn("Idempotency cache read failed", "idempotency_key", key, "error", err)
		return nil
	}
	return cached
}

func (s *Service) execute(ctx context.Context, input runtime.AgentInput, opts Options) *ExecutionResult {
	result := &ExecutionResult{
		ExecutionID: uuid.NewString(),
		StartedAt:   s.now().UTC(),
	}

	if opts.Mode == endpoint.ModeAsync {
		result.Status = StatusAccepted
		s.setResult(result)

		dispatched := *result
		dispatched.Status = StatusRunning
		if err := s.pool.Submit(func(jobCtx context.Context) {
			s.setResult(&dispatched)
			output, err := s.invokeWithRetry(jobCtx, input, opts)
			s.finishResult(&dispatched, output, err)
			s.setResult(&dispatched)
		}); err != nil {
			result.Status = StatusFailed
			result.StatusCode = http.StatusServiceUnavailable
			result.Error = err.Error()
			s.setResult(result)
		}
		return result
	}

	result.Status = StatusRunning
	s.setResult(result)
	output, err := s.invokeWithRetry(ctx, input, opts)
	s.finishResult(result, output, err)
	s.setResult(result)
	return result
}

// finishResult folds an invocation outcome into the result.
func (s *Service) finishResult(result *ExecutionResult, output runtime.Output, err error) {
	completed := s.now().UTC()
	result.CompletedAt = &completed
	if err != nil {
		result.Status = StatusFailed
		result.StatusCode = failureStatus(err)
		result.Error = err.Error()
		return
	}
	result.Status = StatusCompleted
	result.Output = output
}

// failureStatus maps invocation errors to the HTTP status surfaced on
// the result: 503 when the runtime was unreachable or timed out.
func failureStatus(err error) int {
	if runtime.Retryable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Service) invokeWithRetry(ctx context.Context, input runtime.AgentInput, opts Options) (runtime.Output, error) {
	maxAttempts := 1
	if opts.RetryPolicy != nil && opts.RetryPolicy.MaxAttempts > 0 {
		maxAttempts = opts.RetryPolicy.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		output, err := s.attempt(ctx, input, opts.TimeoutSeconds)
		if err == nil {
			return output, nil
		}
		if attempt >= maxAttempts || !runtime.Retryable(err) {
			return nil, err
		}

		delay := backoffDelay(opts.RetryPolicy, attempt)
		slog.Info("Retrying runtime invocation",
			"agent_id", input.AgentID, "attempt", attempt,
			"max_attempts", maxAttempts, "delay", delay, "error", err)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return nil, err
		}
	}
}

// attempt runs one runtime invocation, bounded by timeoutSeconds when
// set. Deadline overruns are reported as timeouts so retry policy
// applies.
func (s *Service) attempt(ctx context.Context, input runtime.AgentInput, timeoutSeconds *float64) (runtime.Output, error) {
	if timeoutSeconds != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	output, err := s.runtime.Invoke(ctx, input)
	if err != nil {
		if timeoutSeconds != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return nil, fmt.Errorf("%w: attempt exceeded %gs", runtime.ErrTimeout, *timeoutSeconds)
		}
		return nil, err
	}
	return output, nil
}

// backoffDelay computes the wait before retry attempt+1:
// min(max_delay_ms, initial_delay_ms × multiplier^(attempt−1)).
func backoffDelay(policy *endpoint.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		return 0
	}
	ms := float64(policy.InitialDelayMs) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if max := float64(policy.MaxDelayMs); ms > max {
		ms = max
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (s *Service) setResult(result *ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.ExecutionID] = result.Clone()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
