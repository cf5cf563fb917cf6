package plugin

import "context"

// Health status values reported by HealthChecker.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthStatus is a plugin's self-reported condition.
type HealthStatus struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthChecker is implemented by plugins that report their health status.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Validator is implemented by plugins that validate their config post-init.
type Validator interface {
	ValidateConfig() error
}
