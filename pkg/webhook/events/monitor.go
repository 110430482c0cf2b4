package events

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthState is the overall health verdict.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// HealthCheck is a named liveness predicate.
type HealthCheck func(ctx context.Context) bool

// CheckResult is one health check outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// HealthReport is the aggregate health response.
type HealthReport struct {
	Status    HealthState   `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Metrics is the aggregate view the /metrics endpoint serves.
type Metrics struct {
	RequestCount    int     `json:"request_count"`
	SuccessRate     float64 `json:"success_rate"`
	FailureRate     float64 `json:"failure_rate"`
	AvgResponseTime float64 `json:"avg_response_time"`
	P95ResponseTime float64 `json:"p95_response_time"`
	P99ResponseTime float64 `json:"p99_response_time"`
}

// Alert is a fired alert.
type Alert struct {
	Name    string    `json:"name"`
	Message string    `json:"message"`
	FiredAt time.Time `json:"fired_at"`
}

// Monitor aggregates request samples, runs health checks, and
// de-duplicates alerts inside a window.
type Monitor struct {
	mu            sync.Mutex
	requestCount  int
	successCount  int
	failureCount  int
	responseTimes []float64

	checks map[string]HealthCheck

	alertWindow time.Duration
	lastFired   map[string]time.Time
	alerts      []Alert

	now func() time.Time
}

// NewMonitor creates a monitor with the given alert dedup window.
func NewMonitor(alertWindow time.Duration) *Monitor {
	return &Monitor{
		checks:      make(map[string]HealthCheck),
		alertWindow: alertWindow,
		lastFired:   make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (m *Monitor) SetNowFunc(now func() time.Time) { m.now = now }

// RecordRequest counts one inbound request.
func (m *Monitor) RecordRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount++
}

// RecordResponseTime records one response latency sample.
func (m *Monitor) RecordResponseTime(ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseTimes = append(m.responseTimes, ms)
}

// RecordStatus records a success or failure outcome.
func (m *Monitor) RecordStatus(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.successCount++
	} else {
		m.failureCount++
	}
}

// Metrics returns the current aggregates.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{RequestCount: m.requestCount}

	total := m.successCount + m.failureCount
	if total > 0 {
		out.SuccessRate = float64(m.successCount) / float64(total)
		out.FailureRate = float64(m.failureCount) / float64(total)
	}

	if n := len(m.responseTimes); n > 0 {
		sum := 0.0
		for _, v := range m.responseTimes {
			sum += v
		}
		out.AvgResponseTime = sum / float64(n)
		sorted := make([]float64, n)
		copy(sorted, m.responseTimes)
		sort.Float64s(sorted)
		out.P95ResponseTime = percentile(sorted, 0.95)
		out.P99ResponseTime = percentile(sorted, 0.99)
	}
	return out
}

// percentile picks the nearest-rank value from a sorted sample.
func percentile(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RegisterCheck adds a named health check.
func (m *Monitor) RegisterCheck(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Health runs all checks concurrently: healthy when all pass, degraded
// when some fail, unhealthy when none pass or none are registered.
func (m *Monitor) Health(ctx context.Context) HealthReport {
	m.mu.Lock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.Unlock()

	sort.Strings(names)
	report := HealthReport{Timestamp: m.now().UTC()}
	report.Checks = make([]CheckResult, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			report.Checks[i] = CheckResult{Name: name, Healthy: checks[name](ctx)}
			return nil
		})
	}
	_ = g.Wait()

	passing := 0
	for _, check := range report.Checks {
		if check.Healthy {
			passing++
		}
	}

	switch {
	case len(names) == 0 || passing == 0:
		report.Status = Unhealthy
	case passing == len(names):
		report.Status = Healthy
	default:
		report.Status = Degraded
	}
	return report
}

// Fire raises an alert unless one with the same name fired inside the
// dedup window. It reports whether the alert fired.
func (m *Monitor) Fire(name, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if last, ok := m.lastFired[name]; ok && now.Sub(last) < m.alertWindow {
		return false
	}
	m.lastFired[name] = now
	m.alerts = append(m.alerts, Alert{Name: name, Message: message, FiredAt: now})
	return true
}

// Alerts returns a copy of all fired alerts.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
