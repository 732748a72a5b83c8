package health

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Check reports the current health of one component
type Check func(ctx context.Context) Status

// Monitor holds named checks and evaluates them on demand
type Monitor struct {
	name   string
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a monitor whose aggregate status is reported as name
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:   name,
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check for component
func (m *Monitor) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Components returns the registered component names, sorted
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.checks))
}

// Report runs every check and aggregates the results in component order
func (m *Monitor) Report(ctx context.Context) Status {
	m.mu.RLock()
	names := slices.Sorted(maps.Keys(m.checks))
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = m.checks[name]
	}
	m.mu.RUnlock()

	subs := make([]Status, len(names))
	for i, check := range checks {
		s := check(ctx)
		s.Component = names[i]
		subs[i] = s
	}
	return Aggregate(m.name, subs)
}
