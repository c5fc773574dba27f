package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/pkg/config"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthManager keeps the last known health of sources and storage backends
// in memory
type HealthManager struct {
	mu     sync.RWMutex
	health map[string]*config.HealthData
	now    func() time.Time
}

// GlobalHealthManager is the singleton instance for health management
var GlobalHealthManager = NewHealthManager()

// NewHealthManager creates a new health manager
func NewHealthManager() *HealthManager {
	return &HealthManager{
		health: make(map[string]*config.HealthData),
		now:    time.Now,
	}
}

// UpdateHealth updates the health status for a component
func (hm *HealthManager) UpdateHealth(component string, health *config.HealthData) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	healthCopy := *health
	hm.health[component] = &healthCopy
}

// ReportHealth records a status and message for component, stamped now.
func (hm *HealthManager) ReportHealth(component, status, message string) {
	h := &config.HealthData{
		LastCheck: hm.now(),
		Status:    status,
		Message:   message,
	}
	if status != StatusHealthy {
		h.Error = message
	}
	hm.UpdateHealth(component, h)
}

// GetHealth retrieves the health status for a specific component
func (hm *HealthManager) GetHealth(component string) (*config.HealthData, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	health, exists := hm.health[component]
	if !exists {
		return nil, false
	}

	healthCopy := *health
	return &healthCopy, true
}

// GetAllHealth retrieves all health statuses
func (hm *HealthManager) GetAllHealth() map[string]*config.HealthData {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	result := make(map[string]*config.HealthData, len(hm.health))
	for k, v := range hm.health {
		healthCopy := *v
		result[k] = &healthCopy
	}

	return result
}

// Components returns the names of every component with recorded health, sorted.
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.health))
	for k := range hm.health {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsHealthy checks if a component reported healthy within maxAge
func (hm *HealthManager) IsHealthy(component string, maxAge time.Duration) bool {
	health, exists := hm.GetHealth(component)
	if !exists {
		return false
	}

	if hm.now().Sub(health.LastCheck) > maxAge {
		return false
	}

	return health.Status == StatusHealthy
}
