package daemon

import (
	"context"
	"time"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusDegraded HealthStatus = "degraded"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one probe result. CheckedAt is stamped by the daemon.
type ComponentHealth struct {
	Name      string
	Healthy   bool
	Error     error
	CheckedAt time.Time
}

// Component is a unit of the server lifecycle. Init runs in dependency order,
// Start in registration order, Stop in reverse registration order.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
