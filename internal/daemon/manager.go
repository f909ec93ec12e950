package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/medtriage/internal/concurrency"
	"github.com/harunnryd/medtriage/internal/config"
)

// healthProbeTimeout bounds each component probe.
const healthProbeTimeout = 5 * time.Second

// Daemon owns the component lifecycle of the triage server: dependency
// ordered init, start in registration order, periodic health checks and a
// reverse-order graceful shutdown.
type Daemon struct {
	cfg           *config.Config
	components    []Component
	shutdownOrder []string
	health        HealthStatus
	uptimeStart   time.Time
	mu            sync.RWMutex
	monitorDone   chan struct{}
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Daemon{
		cfg:           cfg,
		components:    make([]Component, 0),
		shutdownOrder: make([]string, 0),
		health:        StatusStarting,
		uptimeStart:   time.Now(),
		monitorDone:   make(chan struct{}),
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	d.shutdownOrder = append([]string{comp.Name()}, d.shutdownOrder...)
	slog.Info("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start brings every component up and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM, then shuts down.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("MedTriage daemon starting...", "port", d.cfg.Server.Port)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(context.WithoutCancel(ctx))
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		timeout, _ := config.DurationOrDefault(d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTime)
		_ = d.gracefulShutdown(context.WithoutCancel(ctx), timeout)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("MedTriage daemon is running", "components", len(d.components))

	concurrency.SafeGo(func() { d.runHealthMonitor(ctx) }, func(p interface{}) {
		slog.Error("Health monitor panicked", "panic", p)
	})

	<-ctx.Done()

	slog.Info("Context cancelled, initiating graceful shutdown", "reason", ctx.Err(), "uptime", d.Uptime().Round(time.Second))
	d.setHealth(StatusStopping)
	close(d.monitorDone)

	shutdownTimeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}
	if err := d.gracefulShutdown(context.Background(), shutdownTimeout); err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// Uptime is the time since the daemon was created.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.uptimeStart)
}

// ComponentHealth probes every registered component. A probe error or a nil
// result counts as unhealthy.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	return d.ComponentHealthContext(context.Background())
}

func (d *Daemon) ComponentHealthContext(ctx context.Context) map[string]*ComponentHealth {
	d.mu.RLock()
	components := make([]Component, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(components))
	for _, comp := range components {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		health, err := comp.Health(probeCtx)
		cancel()

		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health.Healthy = false
			health.Error = err
		}
		health.CheckedAt = time.Now()
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getComponentByName(name)
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

// validateConfig checks what must hold before any component runs and makes
// sure the knowledge base directories exist.
func (d *Daemon) validateConfig() error {
	slog.Info("Validating configuration...")

	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}
	if _, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout); err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}
	if _, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval); err != nil {
		return fmt.Errorf("parse daemon health check interval: %w", err)
	}
	if _, err := config.DurationOrDefault(d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTime); err != nil {
		return fmt.Errorf("parse daemon startup shutdown timeout: %w", err)
	}

	for _, path := range []string{
		orDefault(d.cfg.Retrieval.IndexPath, config.DefaultRetrievalIndexPath),
		orDefault(d.cfg.Retrieval.MetadataPath, config.DefaultRetrievalMetadataPath),
		orDefault(d.cfg.Knowledge.CSVPath, config.DefaultKnowledgeCSVPath),
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	slog.Info("Configuration validated", "port", d.cfg.Server.Port)
	return nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	if err := d.validateDependencies(); err != nil {
		return fmt.Errorf("dependency validation failed: %w", err)
	}

	initOrder, err := d.resolveInitOrder()
	if err != nil {
		return fmt.Errorf("failed to resolve init order: %w", err)
	}
	slog.Info("Initializing components...", "order", initOrder)

	for _, name := range initOrder {
		comp := d.getComponentByName(name)
		start := time.Now()
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		slog.Info("Component initialized", "component", name, "duration", time.Since(start))
	}
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	for _, comp := range d.components {
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s startup failed: %w", comp.Name(), err)
		}
		slog.Info("Component started", "component", comp.Name())
	}
	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.shutdownComponents(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "error", err)
		} else {
			slog.Info("Graceful shutdown completed")
		}
		return err
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// shutdownComponents stops in reverse registration order. A failing Stop is
// logged and the rest still run.
func (d *Daemon) shutdownComponents(ctx context.Context) error {
	var errs []error
	for _, name := range d.shutdownOrder {
		comp := d.getComponentByName(name)
		if comp == nil {
			continue
		}
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		slog.Info("Component stopped", "component", name)
	}

	d.setHealth(StatusStopped)
	if len(errs) > 0 {
		slog.Warn("Some components failed to stop", "count", len(errs))
	}
	return nil
}

func (d *Daemon) rollback(ctx context.Context) {
	slog.Warn("Rolling back initialized components...")

	for _, name := range d.shutdownOrder {
		comp := d.getComponentByName(name)
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Rollback failed", "component", name, "error", err)
		}
	}

	d.setHealth(StatusStopped)
}

func (d *Daemon) getComponentByName(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (d *Daemon) runHealthMonitor(ctx context.Context) {
	interval, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		slog.Error("Failed to parse daemon health check interval", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.monitorDone:
			return
		case <-ticker.C:
			d.checkComponentHealth(ctx)
		}
	}
}

// checkComponentHealth flips the daemon between running and degraded.
func (d *Daemon) checkComponentHealth(ctx context.Context) {
	healths := d.ComponentHealthContext(ctx)
	if ctx.Err() != nil {
		return
	}

	unhealthy := 0
	for name, health := range healths {
		if !health.Healthy {
			unhealthy++
			slog.Warn("Component unhealthy", "component", name, "error", health.Error)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.health != StatusRunning && d.health != StatusDegraded {
		return
	}
	if unhealthy > 0 {
		if d.health != StatusDegraded {
			slog.Warn("Daemon degraded", "unhealthy", unhealthy, "total", len(healths))
		}
		d.health = StatusDegraded
		return
	}
	if d.health == StatusDegraded {
		slog.Info("Daemon recovered", "components", len(healths))
	}
	d.health = StatusRunning
}

func (d *Daemon) validateDependencies() error {
	registered := make(map[string]struct{}, len(d.components))
	for _, comp := range d.components {
		registered[comp.Name()] = struct{}{}
	}

	for _, comp := range d.components {
		for _, dep := range comp.Dependencies() {
			if _, ok := registered[dep]; !ok {
				return fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
		}
	}
	return nil
}

// resolveInitOrder is a depth-first topological sort that keeps registration
// order among independent components.
func (d *Daemon) resolveInitOrder() ([]string, error) {
	visited := make(map[string]bool)
	inProgress := make(map[string]bool)
	order := make([]string, 0, len(d.components))

	var visit func(name string) error
	visit = func(name string) error {
		if inProgress[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}

		comp := d.getComponentByName(name)
		if comp == nil {
			return fmt.Errorf("component %s not found", name)
		}

		inProgress[name] = true
		for _, dep := range comp.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		inProgress[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, comp := range d.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}
	return order, nil
}
