package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/medtriage/internal/config"
)

type mockComponent struct {
	name         string
	dependencies []string
	order        *callLog
	initCalled   bool
	startCalled  bool
	stopCalled   bool
	initError    error
	startError   error
	stopError    error
	healthError  error
	healthResult *ComponentHealth
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newMockComponent(name string, dependencies []string) *mockComponent {
	return &mockComponent{
		name:         name,
		dependencies: dependencies,
		healthResult: &ComponentHealth{
			Name:    name,
			Healthy: true,
		},
	}
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Dependencies() []string { return m.dependencies }

func (m *mockComponent) Init(ctx context.Context) error {
	m.initCalled = true
	m.order.add("init:" + m.name)
	return m.initError
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.startCalled = true
	m.order.add("start:" + m.name)
	return m.startError
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopCalled = true
	m.order.add("stop:" + m.name)
	return m.stopError
}

func (m *mockComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return m.healthResult, m.healthError
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Retrieval: config.RetrievalConfig{
			IndexPath:    filepath.Join(dir, "kb", "medline.index"),
			MetadataPath: filepath.Join(dir, "kb", "medline_meta.db"),
		},
		Knowledge: config.KnowledgeConfig{
			CSVPath: filepath.Join(dir, "raw", "medlineplus.csv"),
		},
		Daemon: config.DaemonConfig{
			ShutdownTimeout:     "2s",
			HealthCheckInterval: "10ms",
		},
	}
}

func TestNewDaemon(t *testing.T) {
	if _, err := NewDaemon(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	d, err := NewDaemon(&config.Config{})
	if err != nil {
		t.Fatalf("NewDaemon() error = %v", err)
	}
	if len(d.components) != 0 {
		t.Errorf("components = %v, want 0", len(d.components))
	}
	if d.Health() != StatusStarting {
		t.Errorf("Health = %v, want %v", d.Health(), StatusStarting)
	}
}

func TestValidateConfig_CreatesDataDirectories(t *testing.T) {
	cfg := testConfig(t)
	d, _ := NewDaemon(cfg)

	if err := d.validateConfig(); err != nil {
		t.Fatalf("validateConfig() failed: %v", err)
	}

	for _, path := range []string{cfg.Retrieval.IndexPath, cfg.Knowledge.CSVPath} {
		if _, err := os.Stat(filepath.Dir(path)); err != nil {
			t.Fatalf("expected directory for %s: %v", path, err)
		}
	}
}

func TestValidateConfig_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "zero port", mutate: func(cfg *config.Config) { cfg.Server.Port = 0 }},
		{name: "port too large", mutate: func(cfg *config.Config) { cfg.Server.Port = 70000 }},
		{name: "bad shutdown timeout", mutate: func(cfg *config.Config) { cfg.Daemon.ShutdownTimeout = "soon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			d, _ := NewDaemon(cfg)
			if err := d.validateConfig(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAddComponent(t *testing.T) {
	d, _ := NewDaemon(&config.Config{})

	d.AddComponent(newMockComponent("Comp1", nil))
	d.AddComponent(newMockComponent("Comp2", []string{"Comp1"}))

	if len(d.components) != 2 {
		t.Errorf("components = %v, want 2", len(d.components))
	}
	if d.shutdownOrder[0] != "Comp2" || d.shutdownOrder[1] != "Comp1" {
		t.Errorf("shutdownOrder = %v, want [Comp2 Comp1]", d.shutdownOrder)
	}
}

func TestInitializeComponents_DependencyOrder(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	log := &callLog{}

	// Registered before its dependency; init must still run Models first.
	retrieval := newMockComponent("Retrieval", []string{"Models"})
	retrieval.order = log
	models := newMockComponent("Models", nil)
	models.order = log

	d.AddComponent(retrieval)
	d.AddComponent(models)

	if err := d.initializeComponents(context.Background()); err != nil {
		t.Fatalf("initializeComponents() error = %v", err)
	}

	got := log.snapshot()
	want := []string{"init:Models", "init:Retrieval"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("init order = %v, want %v", got, want)
	}
}

func TestInitializeComponentsCircularDependency(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("Comp1", []string{"Comp2"}))
	d.AddComponent(newMockComponent("Comp2", []string{"Comp1"}))

	if err := d.initializeComponents(context.Background()); err == nil {
		t.Error("Expected error for circular dependency, got nil")
	}
}

func TestInitializeComponentsMissingDependency(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("Comp", []string{"NonExistent"}))

	if err := d.initializeComponents(context.Background()); err == nil {
		t.Error("Expected error for missing dependency, got nil")
	}
}

func TestShutdownComponents_ReverseOrder(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	log := &callLog{}

	for _, name := range []string{"Models", "Retrieval", "HTTPServer"} {
		comp := newMockComponent(name, nil)
		comp.order = log
		d.AddComponent(comp)
	}

	if err := d.shutdownComponents(context.Background()); err != nil {
		t.Fatalf("shutdownComponents() error = %v", err)
	}

	got := log.snapshot()
	want := []string{"stop:HTTPServer", "stop:Retrieval", "stop:Models"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("stop order = %v, want %v", got, want)
	}
	if d.Health() != StatusStopped {
		t.Errorf("Health = %v, want %v", d.Health(), StatusStopped)
	}
}

func TestComponentHealth(t *testing.T) {
	d, _ := NewDaemon(&config.Config{})

	healthy := newMockComponent("Comp1", nil)

	unhealthy := newMockComponent("Comp2", nil)
	unhealthy.healthResult.Healthy = false
	unhealthy.healthResult.Error = fmt.Errorf("mock error")

	failing := newMockComponent("Comp3", nil)
	failing.healthResult = nil
	failing.healthError = errors.New("probe failed")

	d.AddComponent(healthy)
	d.AddComponent(unhealthy)
	d.AddComponent(failing)

	healths := d.ComponentHealth()

	if len(healths) != 3 {
		t.Fatalf("ComponentHealth() returned %v healths, want 3", len(healths))
	}
	if !healths["Comp1"].Healthy {
		t.Error("Comp1 should be healthy")
	}
	if healths["Comp2"].Healthy || healths["Comp2"].Error == nil {
		t.Error("Comp2 should be unhealthy with an error")
	}
	if healths["Comp3"].Healthy || healths["Comp3"].Name != "Comp3" || healths["Comp3"].Error == nil {
		t.Errorf("Comp3 = %+v, want unhealthy with the probe error", healths["Comp3"])
	}
}

func TestRollback(t *testing.T) {
	d, _ := NewDaemon(&config.Config{})

	comp1 := newMockComponent("Comp1", nil)
	comp2 := newMockComponent("Comp2", nil)
	comp2.stopError = errors.New("stop failed")

	d.AddComponent(comp1)
	d.AddComponent(comp2)

	d.rollback(context.Background())

	if !comp1.stopCalled || !comp2.stopCalled {
		t.Error("Stop() was not called on every component during rollback")
	}
	if d.Health() != StatusStopped {
		t.Errorf("Health = %v, want StatusStopped", d.Health())
	}
}

func TestStart_InitFailureRollsBack(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))

	ok := newMockComponent("Models", nil)
	bad := newMockComponent("Retrieval", []string{"Models"})
	bad.initError = errors.New("index missing")

	d.AddComponent(ok)
	d.AddComponent(bad)

	err := d.Start(context.Background())
	if err == nil {
		t.Fatal("expected startup error")
	}
	if !errors.Is(err, bad.initError) {
		t.Errorf("error = %v, want wrapped init error", err)
	}
	if bad.startCalled || ok.startCalled {
		t.Error("no component should start after an init failure")
	}
	if !ok.stopCalled {
		t.Error("initialized component was not rolled back")
	}
}

func TestStart_StartFailureShutsDown(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))

	first := newMockComponent("Models", nil)
	second := newMockComponent("HTTPServer", []string{"Models"})
	second.startError = errors.New("address in use")

	d.AddComponent(first)
	d.AddComponent(second)

	if err := d.Start(context.Background()); !errors.Is(err, second.startError) {
		t.Fatalf("Start() error = %v, want wrapped start error", err)
	}
	if !first.stopCalled || !second.stopCalled {
		t.Error("components were not stopped after a failed start")
	}
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	log := &callLog{}

	models := newMockComponent("Models", nil)
	models.order = log
	server := newMockComponent("HTTPServer", []string{"Models"})
	server.order = log

	d.AddComponent(models)
	d.AddComponent(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for d.Health() != StatusRunning {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not reach running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	want := []string{"init:Models", "init:HTTPServer", "start:Models", "start:HTTPServer", "stop:HTTPServer", "stop:Models"}
	if got := log.snapshot(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("lifecycle = %v, want %v", got, want)
	}
	if d.Health() != StatusStopped {
		t.Errorf("Health = %v, want %v", d.Health(), StatusStopped)
	}
}

func TestGetComponentByName(t *testing.T) {
	d, _ := NewDaemon(&config.Config{})
	d.AddComponent(newMockComponent("Comp1", nil))

	if d.Component("Comp1") == nil {
		t.Error("Component(Comp1) = nil")
	}
	if d.Component("NonExistent") != nil {
		t.Error("Component(NonExistent) should be nil")
	}
}

func TestCheckComponentHealth_DegradesAndRecovers(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	comp := newMockComponent("Retrieval", nil)
	d.AddComponent(comp)

	// Only a running daemon changes state.
	d.checkComponentHealth(context.Background())
	if d.Health() != StatusStarting {
		t.Fatalf("Health = %v, want %v", d.Health(), StatusStarting)
	}

	d.setHealth(StatusRunning)
	comp.healthResult = &ComponentHealth{Name: "Retrieval", Healthy: false, Error: errors.New("knowledge base not loaded")}
	d.checkComponentHealth(context.Background())
	if d.Health() != StatusDegraded {
		t.Fatalf("Health = %v, want %v", d.Health(), StatusDegraded)
	}

	comp.healthResult = &ComponentHealth{Name: "Retrieval", Healthy: true}
	d.checkComponentHealth(context.Background())
	if d.Health() != StatusRunning {
		t.Fatalf("Health = %v, want %v", d.Health(), StatusRunning)
	}

	healths := d.ComponentHealth()
	if healths["Retrieval"].CheckedAt.IsZero() {
		t.Error("CheckedAt should be stamped")
	}
}
