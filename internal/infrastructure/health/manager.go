// Package health aggregates liveness checks of the live pipeline components
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"orderflow/internal/core"
)

const statusHealthy = "healthy"

// Manager runs registered checks on demand
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewManager creates an empty manager. A nil logger disables logging of failed checks.
func NewManager(logger core.ILogger) *Manager {
	m := &Manager{checks: make(map[string]func() error)}
	if logger != nil {
		m.logger = logger.WithField("component", "health")
	}
	return m
}

// Register adds or replaces the check of a component
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Status runs every check and reports "healthy" or "unhealthy: <reason>" per component
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
			if m.logger != nil {
				m.logger.Warn("health check failed", "check", component, "error", err)
			}
			continue
		}
		status[component] = statusHealthy
	}
	return status
}

// IsHealthy is true when every check passes; an empty manager is healthy
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// Components lists registered check names in order
func (m *Manager) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type response struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// ServeHTTP writes the status as JSON, 200 when healthy and 503 otherwise
func (m *Manager) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.Status()
	healthy := true
	for _, s := range status {
		if s != statusHealthy {
			healthy = false
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response{Healthy: healthy, Components: status})
}
