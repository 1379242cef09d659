package observability

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the overall or per-check verdict.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is one named probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthInfo is the health endpoint payload.
type HealthInfo struct {
	Status    HealthStatus           `json:"status"`
	Version   string                 `json:"version"`
	Uptime    time.Duration          `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one probe's outcome.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthChecker runs all registered probes concurrently.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
	version   string
}

// NewHealthChecker creates a checker stamped with the build version.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
		version:   version,
	}
}

// RegisterCheck adds a probe.
func (h *HealthChecker) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[check.Name()] = check
}

// Check runs every probe and aggregates the results. Any failing probe
// degrades the overall status.
func (h *HealthChecker) Check(ctx context.Context) *HealthInfo {
	h.mu.RLock()
	checks := make(map[string]HealthCheck)
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	info := &HealthInfo{
		Status:    HealthStatusHealthy,
		Version:   h.version,
		Uptime:    time.Since(h.startTime),
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	var wg sync.WaitGroup
	resultChan := make(chan struct {
		name   string
		result CheckResult
	}, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			latency := time.Since(start)

			result := CheckResult{
				Latency: latency.String(),
			}

			if err != nil {
				result.Status = HealthStatusUnhealthy
				result.Error = err.Error()
			} else {
				result.Status = HealthStatusHealthy
				result.Message = "OK"
			}

			resultChan <- struct {
				name   string
				result CheckResult
			}{n, result}
		}(name, check)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		info.Checks[r.name] = r.result

		if r.result.Status == HealthStatusUnhealthy {
			info.Status = HealthStatusDegraded
		}
	}

	return info
}

// Uptime reports time since startup.
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// SimpleHealthCheck wraps a plain function as a probe.
type SimpleHealthCheck struct {
	name    string
	checker func(context.Context) error
}

// NewSimpleHealthCheck creates a function-backed probe.
func NewSimpleHealthCheck(name string, checker func(context.Context) error) *SimpleHealthCheck {
	return &SimpleHealthCheck{
		name:    name,
		checker: checker,
	}
}

func (c *SimpleHealthCheck) Name() string {
	return c.name
}

func (c *SimpleHealthCheck) Check(ctx context.Context) error {
	if c.checker != nil {
		return c.checker(ctx)
	}
	return nil
}
