package model

import (
	"context"
	"time"

	"github.com/harunnryd/medtriage/internal/model/contract"
)

type backend interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Complete(ctx context.Context, req contract.PromptRequest) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderAdapter wraps provider-specific implementations to satisfy model.Provider.
// A non-zero timeout bounds every call made through it.
type ProviderAdapter struct {
	provider     backend
	name         string
	providerType string
	timeout      time.Duration
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.provider.Generate(ctx, req)
}

func (a *ProviderAdapter) Complete(ctx context.Context, req contract.PromptRequest) (string, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.provider.Complete(ctx, req)
}

func (a *ProviderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.provider.Embed(ctx, text)
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	return nil
}

func (a *ProviderAdapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
