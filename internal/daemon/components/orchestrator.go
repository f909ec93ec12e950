package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/orchestrator"
	"github.com/harunnryd/medtriage/internal/tooling"
)

// OrchestratorComponent wires the tool executor, retrieval service and model
// router into a conversation orchestrator.
type OrchestratorComponent struct {
	cfg           *config.Config
	modelsComp    *ModelsComponent
	retrievalComp *RetrievalComponent
	orch          *orchestrator.Orchestrator
	tools         *tooling.Components
}

func NewOrchestratorComponent(cfg *config.Config, modelsComp *ModelsComponent, retrievalComp *RetrievalComponent) *OrchestratorComponent {
	return &OrchestratorComponent{
		cfg:           cfg,
		modelsComp:    modelsComp,
		retrievalComp: retrievalComp,
	}
}

func (o *OrchestratorComponent) Name() string {
	return "Orchestrator"
}

func (o *OrchestratorComponent) Dependencies() []string {
	return []string{"Models", "Retrieval"}
}

func (o *OrchestratorComponent) Init(ctx context.Context) error {
	if o.modelsComp == nil || o.retrievalComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}

	router := o.modelsComp.GetRouter()
	service := o.retrievalComp.GetService()
	if router == nil || service == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	tools, err := tooling.Build(o.cfg, service)
	if err != nil {
		return fmt.Errorf("failed to initialize tooling: %w", err)
	}

	orchCfg, err := orchestrator.NewConfig(o.cfg.Orchestrator, o.cfg.Tools)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator config: %w", err)
	}

	chatModel := o.cfg.Models.Default
	if chatModel == "" {
		chatModel = config.DefaultModelDefault
	}
	localModel := o.cfg.Models.Local
	if localModel == "" {
		localModel = config.DefaultModelLocal
	}

	factory := func(ctx context.Context) (orchestrator.Backends, error) {
		return orchestrator.RouterBackends(router, chatModel, localModel), nil
	}

	o.tools = tools
	o.orch = orchestrator.New(orchCfg, service, tools.Executor, factory)

	slog.Info("Orchestrator initialized", "component", o.Name(), "tools", len(tools.Registry.Names()), "max_turns", orchCfg.MaxTurns)
	return nil
}

func (o *OrchestratorComponent) Start(ctx context.Context) error {
	if o.orch == nil {
		return fmt.Errorf("orchestrator not initialized")
	}
	return nil
}

func (o *OrchestratorComponent) Stop(ctx context.Context) error {
	return nil
}

func (o *OrchestratorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if o.orch == nil {
		return &daemon.ComponentHealth{Name: o.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: o.Name(), Healthy: true}, nil
}

func (o *OrchestratorComponent) GetOrchestrator() *orchestrator.Orchestrator {
	return o.orch
}
