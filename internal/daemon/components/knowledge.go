package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/knowledge"
	"github.com/harunnryd/medtriage/internal/model"
)

// KnowledgeRefresherComponent rebuilds the knowledge base on the configured
// cron schedule and reloads the retrieval service after each build. An empty
// schedule disables it.
type KnowledgeRefresherComponent struct {
	cfg           *config.Config
	modelsComp    *ModelsComponent
	retrievalComp *RetrievalComponent
	source        knowledge.TopicSource
	refresher     *knowledge.Refresher
}

func NewKnowledgeRefresherComponent(cfg *config.Config, modelsComp *ModelsComponent, retrievalComp *RetrievalComponent) *KnowledgeRefresherComponent {
	return &KnowledgeRefresherComponent{
		cfg:           cfg,
		modelsComp:    modelsComp,
		retrievalComp: retrievalComp,
	}
}

// WithSource replaces the MedlinePlus fetcher.
func (k *KnowledgeRefresherComponent) WithSource(source knowledge.TopicSource) *KnowledgeRefresherComponent {
	k.source = source
	return k
}

func (k *KnowledgeRefresherComponent) Name() string {
	return "KnowledgeRefresher"
}

func (k *KnowledgeRefresherComponent) Dependencies() []string {
	return []string{"Models", "Retrieval"}
}

func (k *KnowledgeRefresherComponent) Init(ctx context.Context) error {
	if k.modelsComp == nil || k.retrievalComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}
	router := k.modelsComp.GetRouter()
	service := k.retrievalComp.GetService()
	if router == nil || service == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	if k.source == nil {
		fetcher, err := knowledge.NewFetcherFromConfig(k.cfg.Knowledge)
		if err != nil {
			return err
		}
		k.source = fetcher
	}

	buildCfg, err := knowledge.NewBuildConfig(k.cfg)
	if err != nil {
		return err
	}

	embedModel := orDefault(k.cfg.Models.Embedding, config.DefaultModelEmbedding)
	builder := knowledge.NewBuilder(buildCfg, model.RouterEmbedder(router, embedModel))
	k.refresher = knowledge.NewRefresher(k.source, builder, buildCfg.CSVPath, k.cfg.Knowledge.RefreshSchedule, service.Load)

	slog.Info("Knowledge refresher initialized", "component", k.Name(), "schedule", k.cfg.Knowledge.RefreshSchedule)
	return nil
}

func (k *KnowledgeRefresherComponent) Start(ctx context.Context) error {
	if k.refresher == nil {
		return fmt.Errorf("knowledge refresher not initialized")
	}
	if k.cfg.Knowledge.RefreshSchedule == "" {
		slog.Info("Knowledge refresh schedule empty, refresher disabled", "component", k.Name())
		return nil
	}
	return k.refresher.Start(ctx)
}

func (k *KnowledgeRefresherComponent) Stop(ctx context.Context) error {
	if k.refresher == nil {
		return nil
	}
	if err := k.refresher.Stop(ctx); err != nil {
		return fmt.Errorf("stop knowledge refresher: %w", err)
	}
	slog.Info("Knowledge refresher stopped", "component", k.Name())
	return nil
}

// Health stays green after a failed refresh; the previous index keeps serving.
func (k *KnowledgeRefresherComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if k.refresher == nil {
		return &daemon.ComponentHealth{Name: k.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if at, err := k.refresher.LastRun(); err != nil {
		slog.Warn("Last knowledge refresh failed", "component", k.Name(), "at", at, "error", err)
	}
	return &daemon.ComponentHealth{Name: k.Name(), Healthy: true}, nil
}

func (k *KnowledgeRefresherComponent) GetRefresher() *knowledge.Refresher {
	return k.refresher
}
