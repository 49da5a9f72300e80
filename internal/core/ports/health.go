package ports

import "context"

// HealthChecker reports the reachability of a backing dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
	// Name is the dependency label shown on /health, e.g. "postgresql".
	Name() string
}
