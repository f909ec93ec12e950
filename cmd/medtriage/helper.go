package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/daemon/components"
	"github.com/harunnryd/medtriage/internal/formatter"

	"github.com/spf13/cobra"
)

// localStack is the in-process subset of the daemon used by one-shot commands.
type localStack struct {
	models       *components.ModelsComponent
	retrieval    *components.RetrievalComponent
	orchestrator *components.OrchestratorComponent
	started      []daemon.Component
}

// buildLocalStack initializes components up to and including the
// orchestrator. withOrchestrator=false stops after retrieval.
func buildLocalStack(ctx context.Context, cfg *config.Config, withOrchestrator bool) (*localStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	s := &localStack{}
	s.models = components.NewModelsComponent(cfg)
	s.retrieval = components.NewRetrievalComponent(cfg, s.models)

	order := []daemon.Component{s.models, s.retrieval}
	if withOrchestrator {
		s.orchestrator = components.NewOrchestratorComponent(cfg, s.models, s.retrieval)
		order = append(order, s.orchestrator)
	}

	for _, comp := range order {
		if err := comp.Init(ctx); err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("initialize %s: %w", comp.Name(), err)
		}
		s.started = append(s.started, comp)
	}
	return s, nil
}

func (s *localStack) Close(ctx context.Context) {
	for i := len(s.started) - 1; i >= 0; i-- {
		if err := s.started[i].Stop(ctx); err != nil {
			slog.Warn("Component stop failed", "component", s.started[i].Name(), "error", err)
		}
	}
	s.started = nil
}

func outputFormatter(cmd *cobra.Command) (formatter.Formatter, error) {
	raw, _ := cmd.Flags().GetString("output")
	format, err := formatter.ParseOutputFormat(raw)
	if err != nil {
		return nil, err
	}
	return formatter.New(format)
}
