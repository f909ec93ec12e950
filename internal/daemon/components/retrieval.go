package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/model"
	"github.com/harunnryd/medtriage/internal/retrieval"
)

// RetrievalComponent loads the knowledge index and metadata. A missing or
// inconsistent artifact fails startup.
type RetrievalComponent struct {
	cfg        *config.Config
	modelsComp *ModelsComponent
	service    *retrieval.Service
}

func NewRetrievalComponent(cfg *config.Config, modelsComp *ModelsComponent) *RetrievalComponent {
	return &RetrievalComponent{cfg: cfg, modelsComp: modelsComp}
}

func (r *RetrievalComponent) Name() string {
	return "Retrieval"
}

func (r *RetrievalComponent) Dependencies() []string {
	return []string{"Models"}
}

func (r *RetrievalComponent) Init(ctx context.Context) error {
	if r.modelsComp == nil || r.modelsComp.GetRouter() == nil {
		return fmt.Errorf("model router not initialized")
	}

	embedModel := r.cfg.Models.Embedding
	if embedModel == "" {
		embedModel = config.DefaultModelEmbedding
	}

	r.service = retrieval.NewService(retrieval.ServiceConfig{
		IndexPath:    orDefault(r.cfg.Retrieval.IndexPath, config.DefaultRetrievalIndexPath),
		MetadataPath: orDefault(r.cfg.Retrieval.MetadataPath, config.DefaultRetrievalMetadataPath),
		Workers:      config.IntOrDefault(r.cfg.Retrieval.Workers, config.DefaultRetrievalWorkers),
	}, model.RouterEmbedder(r.modelsComp.GetRouter(), embedModel))

	if err := r.service.Load(ctx); err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}

	slog.Info("Knowledge base loaded", "component", r.Name(), "documents", r.service.Count())
	return nil
}

func (r *RetrievalComponent) Start(ctx context.Context) error {
	return nil
}

func (r *RetrievalComponent) Stop(ctx context.Context) error {
	if r.service == nil {
		return nil
	}
	if err := r.service.Close(); err != nil {
		return fmt.Errorf("close knowledge base: %w", err)
	}
	slog.Info("Knowledge base closed", "component", r.Name())
	return nil
}

func (r *RetrievalComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if r.service == nil || !r.service.Loaded() {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: fmt.Errorf("knowledge base not loaded")}, nil
	}
	return &daemon.ComponentHealth{Name: r.Name(), Healthy: true}, nil
}

func (r *RetrievalComponent) GetService() *retrieval.Service {
	return r.service
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
