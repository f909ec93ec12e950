package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/model"
)

// ModelsComponent owns the model router. Providers are created on first use,
// so Init only validates the registry.
type ModelsComponent struct {
	cfg     *config.Config
	factory model.ProviderFactory
	router  *model.DefaultModelRouter
}

func NewModelsComponent(cfg *config.Config) *ModelsComponent {
	return &ModelsComponent{cfg: cfg}
}

// NewModelsComponentWithFactory swaps the provider factory, mainly for tests.
func NewModelsComponentWithFactory(cfg *config.Config, factory model.ProviderFactory) *ModelsComponent {
	return &ModelsComponent{cfg: cfg, factory: factory}
}

func (m *ModelsComponent) Name() string {
	return "Models"
}

func (m *ModelsComponent) Dependencies() []string {
	return nil
}

func (m *ModelsComponent) Init(ctx context.Context) error {
	var (
		router *model.DefaultModelRouter
		err    error
	)
	if m.factory != nil {
		router, err = model.NewModelRouterWithFactory(m.cfg.Models, m.factory)
	} else {
		router, err = model.NewModelRouter(m.cfg.Models)
	}
	if err != nil {
		return fmt.Errorf("failed to create model router: %w", err)
	}
	m.router = router

	slog.Info("Model router initialized", "component", m.Name(), "models", len(router.ListModels()))
	return nil
}

func (m *ModelsComponent) Start(ctx context.Context) error {
	return nil
}

func (m *ModelsComponent) Stop(ctx context.Context) error {
	return nil
}

func (m *ModelsComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if m.router == nil {
		return &daemon.ComponentHealth{Name: m.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if err := m.router.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: m.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: m.Name(), Healthy: true}, nil
}

func (m *ModelsComponent) GetRouter() model.ModelRouter {
	if m.router == nil {
		return nil
	}
	return m.router
}
