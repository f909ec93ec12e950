package orchestrator

import (
	"context"
	"fmt"

	"github.com/harunnryd/medtriage/internal/model"
	"github.com/harunnryd/medtriage/internal/model/contract"
)

// ChatBackend runs one tool-calling chat completion.
type ChatBackend interface {
	ChatComplete(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

// LocalBackend runs one plain text completion.
type LocalBackend interface {
	Complete(ctx context.Context, req contract.PromptRequest) (string, error)
}

type Backends struct {
	Chat  ChatBackend
	Local LocalBackend
}

// BackendFactory builds the backends on first use.
type BackendFactory func(ctx context.Context) (Backends, error)

// RouterBackends adapts a model router to the orchestrator backends, pinning
// the chat and local model names.
func RouterBackends(router model.ModelRouter, chatModel, localModel string) Backends {
	return Backends{
		Chat:  &routerChat{router: router, modelName: chatModel},
		Local: &routerLocal{router: router, modelName: localModel},
	}
}

type routerChat struct {
	router    model.ModelRouter
	modelName string
}

func (r *routerChat) ChatComplete(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	req.Model = r.modelName
	resp, err := r.router.Route(ctx, r.modelName, req)
	if err != nil {
		return nil, fmt.Errorf("LLM execution with tools failed: %w", err)
	}
	return resp, nil
}

type routerLocal struct {
	router    model.ModelRouter
	modelName string
}

func (r *routerLocal) Complete(ctx context.Context, req contract.PromptRequest) (string, error) {
	req.Model = r.modelName
	out, err := r.router.RouteCompletion(ctx, r.modelName, req)
	if err != nil {
		return "", fmt.Errorf("local completion failed: %w", err)
	}
	return out, nil
}
