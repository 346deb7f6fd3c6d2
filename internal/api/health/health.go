// Package health reports whether the configured sink can take lines.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Target is the sink being checked.
type Target interface {
	Name() string
	Ping(ctx context.Context) error
}

// Checker performs health checks against a sink.
type Checker struct {
	target    Target
	startTime time.Time
	version   string
	timeout   time.Duration
	mu        sync.RWMutex
}

// NewChecker creates a new health checker.
func NewChecker(target Target, version string) *Checker {
	return &Checker{
		target:    target,
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the timeout for health checks.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Check pings the sink and returns the aggregated response.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sinkStatus := c.checkSink(checkCtx)

	return &Response{
		Status:     sinkStatus.Status,
		Components: map[string]ComponentStatus{"sink": sinkStatus},
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

func (c *Checker) checkSink(ctx context.Context) ComponentStatus {
	if c.target == nil {
		return ComponentStatus{
			Status:  StatusUnhealthy,
			Message: "sink not configured",
		}
	}

	if err := c.target.Ping(ctx); err != nil {
		return ComponentStatus{
			Status:  StatusUnhealthy,
			Name:    c.target.Name(),
			Message: "sink ping failed: " + err.Error(),
		}
	}

	return ComponentStatus{
		Status:  StatusHealthy,
		Name:    c.target.Name(),
		Message: "ready",
	}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")

		if response.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}
