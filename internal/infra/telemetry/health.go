package telemetry

import "sync"

type HealthReport struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthTracker aggregates named component states into the /healthz report.
// Any component in a non-"ok" state degrades the overall status.
type HealthTracker struct {
	mu     sync.RWMutex
	states map[string]string
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{states: make(map[string]string)}
}

func (t *HealthTracker) Set(component, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[component] = state
}

func (t *HealthTracker) Report() HealthReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := HealthReport{Status: "ok"}
	if len(t.states) == 0 {
		return report
	}
	report.Details = make(map[string]string, len(t.states))
	for component, state := range t.states {
		report.Details[component] = state
		if state != "ok" {
			report.Status = "degraded"
		}
	}
	return report
}
