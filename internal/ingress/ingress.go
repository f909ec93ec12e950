// Package ingress is the request boundary: it normalizes /ask input, runs the
// conversation and formats what the caller sees.
package ingress

import (
	"context"
	"time"

	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/guardrail"
	"github.com/harunnryd/medtriage/internal/logger"
	"github.com/harunnryd/medtriage/internal/orchestrator"
	"github.com/harunnryd/medtriage/internal/triage"
)

type Chatter interface {
	Chat(ctx context.Context, req orchestrator.Request) (*triage.Result, error)
}

type Ingress struct {
	chatter  Chatter
	maxItems int
}

func NewIngress(chatter Chatter, maxItems int) *Ingress {
	if maxItems <= 0 {
		maxItems = guardrail.DefaultMaxItems
	}
	return &Ingress{chatter: chatter, maxItems: maxItems}
}

// Submit runs one validated request through the orchestrator.
func (i *Ingress) Submit(ctx context.Context, req *AskRequest) (Response, error) {
	if req == nil {
		return Response{}, triageErrors.Validation("request is nil")
	}
	if i.chatter == nil {
		return Response{}, triageErrors.Internal("orchestrator not initialized")
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	if logger.GetTraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, req.ID)
	}
	log := logger.FromContext(ctx)
	log.Info("Ask received", "mode", req.Mode, "k", req.K, "history", len(req.History), "images", len(req.Images), "use_functions", req.UseFunctions)

	start := time.Now()
	result, err := i.chatter.Chat(ctx, req.orchestratorRequest())
	if err != nil {
		log.Error("Ask failed", "error", err, "category", triageErrors.Category(err), "duration", time.Since(start))
		return Response{}, err
	}

	resp := Format(result, i.maxItems)
	log.Info("Ask answered", "status", resp.Status, "kind", result.Kind, "turns", result.Turns, "duration", time.Since(start))
	return resp, nil
}
