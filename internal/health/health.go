// Package health aggregates component health checks for gse.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"gse/internal/cognitive"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check performs a health check.
type Check func(ctx context.Context) CheckResult

// Component is a named check. A failing critical component makes the
// overall status unhealthy; a failing non-critical one only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs registered checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	startTime  time.Time
	ready      bool
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		startTime:  time.Now(),
	}
}

// Register adds a component, replacing any with the same name.
func (c *Checker) Register(component *Component) {
	if component.Timeout == 0 {
		component.Timeout = 2 * time.Second
	}
	c.mu.Lock()
	c.components[component.Name] = component
	c.mu.Unlock()
}

// SetReady sets the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every check concurrently. A check that panics or exceeds its
// timeout is reported unhealthy.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(components))
	)
	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()
			result := runCheck(ctx, comp)
			mu.Lock()
			results[comp.Name] = result
			mu.Unlock()
		}(comp)
	}
	wg.Wait()
	return results
}

func runCheck(ctx context.Context, comp *Component) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprintf("%v", r),
				}
			}
		}()
		resultCh <- comp.Check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-resultCh:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   checkCtx.Err().Error(),
		}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// Overall aggregates results into one status.
func (c *Checker) Overall(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for name, result := range results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		case StatusUnknown:
			if comp.Critical && overall == StatusHealthy {
				overall = StatusUnknown
			}
		}
	}
	return overall
}

// Response is the body of the health endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report runs every check and builds a Response.
func (c *Checker) Report(ctx context.Context) Response {
	results := c.Check(ctx)
	c.mu.RLock()
	ready := c.ready
	uptime := time.Since(c.startTime).Round(time.Second)
	c.mu.RUnlock()

	return Response{
		Status:     c.Overall(results),
		Ready:      ready,
		Uptime:     uptime.String(),
		Components: results,
		Timestamp:  time.Now().UTC(),
	}
}

// Handler serves Report as JSON: 200 while healthy or degraded and ready,
// 503 otherwise.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.Report(r.Context())

		code := http.StatusOK
		if !resp.Ready || resp.Status == StatusUnhealthy || resp.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	})
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EngineCheck reports unhealthy when the belief is not a distribution and
// degraded once any critical section has recovered from a panic.
func EngineCheck(snapshot func() cognitive.Snapshot) Check {
	return func(ctx context.Context) CheckResult {
		snap := snapshot()
		details := map[string]any{
			"state":      snap.State.String(),
			"paused":     snap.Paused,
			"updates":    snap.Stats.Updates,
			"recoveries": snap.Stats.Recoveries,
		}
		switch {
		case !snap.Belief.Normalized():
			return CheckResult{Status: StatusUnhealthy, Message: "belief is not normalized", Details: details}
		case snap.Stats.Recoveries > 0:
			return CheckResult{Status: StatusDegraded, Message: "recovered from panics", Details: details}
		default:
			return CheckResult{Status: StatusHealthy, Message: "ok", Details: details}
		}
	}
}

// PingCheck wraps a connectivity probe such as a database ping.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: "ok"}
	}
}
