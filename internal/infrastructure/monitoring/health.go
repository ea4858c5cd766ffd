package monitoring

import (
	"context"
	"sync"
	"time"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
)

// Probe reports whether one dependency of the client is usable.
type Probe struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

// HealthStatus is the aggregate snapshot served on the health endpoint.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker aggregates dependency probes for the control API.
type HealthChecker struct {
	mu     sync.RWMutex
	probes []Probe
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) Add(name string, timeout time.Duration, check func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, Probe{Name: name, Check: check, Timeout: timeout})
}

// CheckAll runs every probe. Any failure turns the aggregate unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := make([]Probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(probes)),
	}

	for _, probe := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, probe.Timeout)
		err := probe.Check(probeCtx)
		cancel()
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[probe.Name] = err.Error()
			continue
		}
		status.Checks[probe.Name] = "healthy"
	}
	return status
}

// SignalingProbe fails while the channel is not in the connected state.
func SignalingProbe(channel ports.SignalingChannel) func(ctx context.Context) error {
	return func(context.Context) error {
		if state := channel.State(); state != domain.StateConnected {
			return domain.ErrNotConnected
		}
		return nil
	}
}

// CatalogProbe verifies the platform REST API answers within the timeout.
func CatalogProbe(client ports.CatalogClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.ListProducts(ctx)
		return err
	}
}
