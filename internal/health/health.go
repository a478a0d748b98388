package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	ActiveJobs int                        `json:"active_jobs"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker performs health checks on the processing backend and the
// optional Redis and object storage dependencies
type Checker struct {
	backendCheck func(ctx context.Context) error
	redis        *redis.Client
	storageCheck func(ctx context.Context) error
	activeJobs   func() int
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker.
// Redis and StorageCheck are optional; unset dependencies are not reported.
type CheckerConfig struct {
	BackendCheck func(ctx context.Context) error
	Redis        *redis.Client
	StorageCheck func(ctx context.Context) error
	ActiveJobs   func() int
	Version      string
	Timeout      time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		backendCheck: cfg.BackendCheck,
		redis:        cfg.Redis,
		storageCheck: cfg.StorageCheck,
		activeJobs:   cfg.ActiveJobs,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

func (c *Checker) run(ctx context.Context, check func(ctx context.Context) error, failure string, failStatus Status) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := check(ctx); err != nil {
		return ComponentHealth{
			Status:   failStatus,
			Message:  failure,
			Duration: time.Since(start).String(),
		}
	}
	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckBackend checks that the processing API answers
func (c *Checker) CheckBackend(ctx context.Context) ComponentHealth {
	if c.backendCheck == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "backend not configured"}
	}
	return c.run(ctx, c.backendCheck, "backend unreachable", StatusUnhealthy)
}

// CheckRedis checks Redis connectivity. Jobs keep running without Redis,
// so a failure only degrades the service.
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	return c.run(ctx, func(ctx context.Context) error {
		return c.redis.Ping(ctx).Err()
	}, "redis ping failed", StatusDegraded)
}

// CheckStorage checks S3/MinIO connectivity
func (c *Checker) CheckStorage(ctx context.Context) ComponentHealth {
	return c.run(ctx, c.storageCheck, "storage check failed", StatusDegraded)
}

func (c *Checker) active() int {
	if c.activeJobs == nil {
		return 0
	}
	return c.activeJobs()
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		ActiveJobs: c.active(),
	}
}

// DeepCheck performs a comprehensive health check (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		ActiveJobs: c.active(),
		Components: make(map[string]ComponentHealth),
	}

	checks := map[string]func(context.Context) ComponentHealth{
		"backend": c.CheckBackend,
	}
	if c.redis != nil {
		checks["redis"] = c.CheckRedis
	}
	if c.storageCheck != nil {
		checks["storage"] = c.CheckStorage
	}

	// Run checks in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch func(context.Context) ComponentHealth) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			response.Components[n] = result
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	// Determine overall status
	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.checker.Check(r.Context()))
}

// ReadinessHandler handles readiness probe requests. Degraded still
// accepts traffic.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())

	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// HealthHandler serves liveness, or readiness with ?deep=true
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
