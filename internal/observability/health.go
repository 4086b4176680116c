package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus is healthy, degraded or unhealthy
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of probing one dependency
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	DurationMS  int64                  `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckFunc probes one dependency
type HealthCheckFunc func(context.Context) *HealthCheck

type registeredCheck struct {
	fn   HealthCheckFunc
	last *HealthCheck
}

// HealthChecker runs registered probes and caches each result for a short TTL
type HealthChecker struct {
	mu      sync.Mutex
	checks  map[string]*registeredCheck
	ttl     time.Duration
	started time.Time
	service string
	version string
}

// NewHealthChecker caches results for 5 seconds
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]*registeredCheck),
		ttl:     5 * time.Second,
		started: time.Now(),
		service: service,
		version: version,
	}
}

// Register adds or replaces a probe
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = &registeredCheck{fn: check}
}

// Check runs every probe whose cached result has expired, concurrently,
// and returns a copy of all results
func (hc *HealthChecker) Check(ctx context.Context) map[string]HealthCheck {
	now := time.Now()

	hc.mu.Lock()
	stale := make(map[string]HealthCheckFunc)
	for name, rc := range hc.checks {
		if rc.last == nil || now.Sub(rc.last.LastChecked) >= hc.ttl {
			stale[name] = rc.fn
		}
	}
	hc.mu.Unlock()

	fresh := make(map[string]*HealthCheck, len(stale))
	var (
		wg  sync.WaitGroup
		fmu sync.Mutex
	)
	for name, fn := range stale {
		wg.Add(1)
		go func(name string, fn HealthCheckFunc) {
			defer wg.Done()
			result := fn(ctx)
			result.LastChecked = time.Now()
			fmu.Lock()
			fresh[name] = result
			fmu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	hc.mu.Lock()
	defer hc.mu.Unlock()
	results := make(map[string]HealthCheck, len(hc.checks))
	for name, rc := range hc.checks {
		if r, ok := fresh[name]; ok {
			rc.last = r
		}
		if rc.last != nil {
			results[name] = *rc.last
		}
	}
	return results
}

// OverallStatus is unhealthy if any check is, else degraded if any check is
func OverallStatus(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HealthResponse is the body served by HealthHandler
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)
	return &HealthResponse{
		Status:    OverallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		Metadata: map[string]interface{}{
			"service":        hc.service,
			"version":        hc.version,
			"uptime_seconds": int64(time.Since(hc.started).Seconds()),
		},
	}
}

// pingCheck turns a connectivity probe into a HealthCheckFunc; a failed ping reports failStatus
func pingCheck(name, label string, timeout time.Duration, failStatus HealthStatus, ping func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := ping(ctx)
		check := &HealthCheck{Name: name, DurationMS: time.Since(start).Milliseconds()}

		if err != nil {
			check.Status = failStatus
			check.Message = fmt.Sprintf("%s unavailable: %v", label, err)
		} else {
			check.Status = HealthStatusHealthy
			check.Message = label + " reachable"
		}
		return check
	}
}

// DatabaseHealthCheck probes the alias document database
func DatabaseHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("database", "Database", 2*time.Second, HealthStatusUnhealthy, ping)
}

// RedisHealthCheck probes the parse cache. A cache outage only degrades parsing.
func RedisHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("redis", "Redis", 2*time.Second, HealthStatusDegraded, ping)
}

// SQLBackendHealthCheck probes the SQL execution backend
func SQLBackendHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("sql_backend", "SQL backend", 5*time.Second, HealthStatusUnhealthy, ping)
}

// AliasStoreHealthCheck reports degraded when the alias configuration fell back to empty categories
func AliasStoreHealthCheck(loadError func() error, aliasCount func() int) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		check := &HealthCheck{
			Name:     "alias_store",
			Status:   HealthStatusHealthy,
			Message:  "Alias configuration loaded",
			Metadata: map[string]interface{}{"alias_count": aliasCount()},
		}
		if err := loadError(); err != nil {
			check.Status = HealthStatusDegraded
			check.Message = fmt.Sprintf("Alias configuration degraded: %v", err)
		}
		return check
	}
}
