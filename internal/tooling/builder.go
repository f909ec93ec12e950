package tooling

import (
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/concurrency"
	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/tool"
	_ "github.com/harunnryd/medtriage/internal/tool/builtin"
)

type Components struct {
	Registry *tool.Registry
	Executor *tool.Executor
}

// Build registers every built-in tool and wraps the registry in an executor
// sized from the tools config.
func Build(cfg *config.Config, knowledge tool.KnowledgeSearcher) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	timeout, err := config.DurationOrDefault(cfg.Tools.Timeout, config.DefaultToolsTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse tools.timeout: %w", err)
	}
	poolSize := config.IntOrDefault(cfg.Tools.PoolSize, config.DefaultToolsPoolSize)
	defaultK := config.IntOrDefault(cfg.Retrieval.DefaultK, config.DefaultRetrievalK)

	registry, err := tool.NewBuiltinRegistry(tool.BuiltinOptions{
		Knowledge: knowledge,
		DefaultK:  defaultK,
	})
	if err != nil {
		return nil, fmt.Errorf("instantiate built-in tools: %w", err)
	}
	slog.Info("Built-in tools registered", "count", len(registry.Names()), "pool_size", poolSize, "timeout", timeout)

	return &Components{
		Registry: registry,
		Executor: tool.NewExecutor(registry, concurrency.NewPool(poolSize), timeout),
	}, nil
}
