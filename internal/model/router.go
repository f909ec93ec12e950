package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/medtriage/internal/config"
	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/logger"
	"github.com/harunnryd/medtriage/internal/model/contract"
	anthropicProvider "github.com/harunnryd/medtriage/internal/model/providers/anthropic"
	commandProvider "github.com/harunnryd/medtriage/internal/model/providers/command"
	geminiProvider "github.com/harunnryd/medtriage/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/medtriage/internal/model/providers/openai"

	"golang.org/x/sync/singleflight"
)

// ProviderFactory builds the client for one registry entry.
type ProviderFactory func(entry config.ModelRegistry) (Provider, error)

// DefaultModelRouter implements ModelRouter interface. Providers are built on
// first use and then cached, so an unreachable local runtime never blocks
// startup of the hosted path.
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	entries   map[string]config.ModelRegistry
	providers map[string]Provider
	factory   ProviderFactory
	group     singleflight.Group
	mu        sync.RWMutex
}

// NewModelRouter creates a new model router
func NewModelRouter(cfg config.ModelsConfig) (*DefaultModelRouter, error) {
	return NewModelRouterWithFactory(cfg, CreateProvider)
}

func NewModelRouterWithFactory(cfg config.ModelsConfig, factory ProviderFactory) (*DefaultModelRouter, error) {
	router := &DefaultModelRouter{
		cfg:       cfg,
		entries:   make(map[string]config.ModelRegistry, len(cfg.Registry)),
		providers: make(map[string]Provider),
		factory:   factory,
	}

	for _, entry := range cfg.Registry {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, triageErrors.Validation("model registry entry without name")
		}
		if !knownProvider(entry.Provider) {
			return nil, triageErrors.Validation(fmt.Sprintf("unknown provider type %q for model %s", entry.Provider, name))
		}
		if _, dup := router.entries[name]; dup {
			return nil, triageErrors.Validation(fmt.Sprintf("duplicate model registry entry %s", name))
		}
		router.entries[name] = entry
	}

	if cfg.Default != "" {
		if _, ok := router.entries[cfg.Default]; !ok {
			return nil, triageErrors.Validation(fmt.Sprintf("default model %s not in registry", cfg.Default))
		}
	}

	return router, nil
}

// Register installs a ready provider under name, replacing any lazy entry.
func (r *DefaultModelRouter) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	if _, ok := r.entries[name]; !ok {
		r.entries[name] = config.ModelRegistry{Name: name, Provider: provider.Type()}
	}
}

// Route routes a completion request to the appropriate provider
func (r *DefaultModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	traceID := logger.GetTraceID(ctx)
	model = r.orDefault(model)

	slog.Info("Routing completion request", "model", model, "trace_id", traceID)

	provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	return r.executeWithFallback(ctx, model, provider, req, traceID)
}

// RouteCompletion runs a plain prompt completion with no fallback; the local
// path has its own canned reply when the model is unavailable.
func (r *DefaultModelRouter) RouteCompletion(ctx context.Context, model string, req contract.PromptRequest) (string, error) {
	traceID := logger.GetTraceID(ctx)
	if model == "" {
		model = r.cfg.Local
	}

	slog.Info("Routing prompt completion", "model", model, "trace_id", traceID)

	provider, err := r.provider(ctx, model)
	if err != nil {
		return "", err
	}

	text, err := provider.Complete(ctx, req)
	if err != nil {
		return "", triageErrors.WrapWithCategory(err, "local completion failed", triageErrors.ErrInternal)
	}
	return text, nil
}

// RouteEmbedding routes an embedding request to the appropriate provider
func (r *DefaultModelRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	traceID := logger.GetTraceID(ctx)
	if model == "" {
		model = r.cfg.Embedding
	}

	slog.Debug("Routing embedding request", "model", model, "trace_id", traceID)

	var lastErr error
	for _, tryModel := range r.embeddingTryOrder(model) {
		select {
		case <-ctx.Done():
			return nil, triageErrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		provider, err := r.provider(ctx, tryModel)
		if err != nil {
			lastErr = err
			continue
		}

		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			slog.Debug("Embedding unsupported by provider, trying next model", "model", tryModel, "trace_id", traceID)
			continue
		}

		lastErr = err
		slog.Warn("Embedding failed for model, trying next model", "model", tryModel, "error", err, "trace_id", traceID)
	}

	if lastErr != nil {
		return nil, triageErrors.WrapWithCategory(lastErr, "embedding failed", triageErrors.ErrInternal)
	}

	return nil, triageErrors.NotFound("no embedding-capable model configured")
}

// embeddingTryOrder keeps the requested model first and only falls through to
// other entries that share its provider type, so vectors stay comparable.
func (r *DefaultModelRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := []string{requestedModel}
	requested, ok := r.entries[requestedModel]
	if !ok {
		return order
	}

	names := make([]string, 0, len(r.entries))
	for name, entry := range r.entries {
		if name == requestedModel || entry.Provider != requested.Provider || entry.UpstreamModel() != requested.UpstreamModel() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return append(order, names...)
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "embeddings not implemented") ||
		strings.Contains(msg, "not support embeddings")
}

// ListModels returns all registered model names
func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.entries))
	for name := range r.entries {
		models = append(models, name)
	}
	sort.Strings(models)

	return models
}

// Health checks the providers that have been built so far.
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return triageErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

func (r *DefaultModelRouter) orDefault(model string) string {
	if strings.TrimSpace(model) == "" {
		return r.cfg.Default
	}
	return model
}

// provider returns the cached provider for name, building it at most once
// even under concurrent first use.
func (r *DefaultModelRouter) provider(ctx context.Context, name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	entry, known := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !known {
		return nil, triageErrors.NotFound(fmt.Sprintf("model %s not found", name))
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		r.mu.RLock()
		p, ok := r.providers[name]
		r.mu.RUnlock()
		if ok {
			return p, nil
		}

		built, err := r.factory(entry)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.providers[name] = built
		r.mu.Unlock()
		slog.Info("Provider initialized", "name", name, "type", entry.Provider, "trace_id", logger.GetTraceID(ctx))
		return built, nil
	})
	if err != nil {
		slog.Warn("Failed to create provider", "provider", entry.Provider, "model", name, "error", err)
		return nil, triageErrors.WrapWithCategory(err, fmt.Sprintf("model %s unavailable", name), triageErrors.ErrInternal)
	}
	return v.(Provider), nil
}

// resolveProvider resolves a provider by model name with fallback
func (r *DefaultModelRouter) resolveProvider(ctx context.Context, model string) (Provider, error) {
	select {
	case <-ctx.Done():
		return nil, triageErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	provider, err := r.provider(ctx, model)
	if err == nil {
		return provider, nil
	}

	if r.cfg.Fallback != "" && model != r.cfg.Fallback {
		slog.Info("Trying fallback model", "model", model, "fallback", r.cfg.Fallback, "error", err)
		return r.provider(ctx, r.cfg.Fallback)
	}

	return nil, err
}

// executeWithFallback executes a request with fallback logic
func (r *DefaultModelRouter) executeWithFallback(ctx context.Context, model string, provider Provider, req contract.CompletionRequest, traceID string) (*contract.CompletionResponse, error) {
	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultModelMaxFallbackAttempts
	}

	currentModel := model
	currentProvider := provider

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, triageErrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		resp, err := currentProvider.Generate(ctx, req)
		if err == nil {
			slog.Info("Request completed", "model", currentModel, "attempt", attempt+1, "trace_id", traceID)
			return resp, nil
		}

		slog.Error("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err, "trace_id", traceID)

		if r.cfg.Fallback == "" || currentModel == r.cfg.Fallback {
			return nil, triageErrors.NewDefaultErrorMapper().MapError(triageErrors.Wrap(err, "provider request failed"))
		}

		slog.Info("Attempting fallback", "from", currentModel, "to", r.cfg.Fallback)

		fallbackProvider, ferr := r.provider(ctx, r.cfg.Fallback)
		if ferr != nil {
			return nil, ferr
		}

		currentModel = r.cfg.Fallback
		currentProvider = fallbackProvider
	}

	return nil, triageErrors.Internal("fallback exhausted")
}

func knownProvider(kind string) bool {
	switch kind {
	case "openai", "groq", "ollama", "anthropic", "gemini", "command":
		return true
	default:
		return false
	}
}

// CreateProvider creates a provider instance based on registry entry
func CreateProvider(entry config.ModelRegistry) (Provider, error) {
	timeout, err := config.DurationOrDefault(entry.RequestTimeout, config.DefaultModelRequestTimeout)
	if err != nil {
		return nil, triageErrors.Validation(fmt.Sprintf("invalid request_timeout for model %s: %v", entry.Name, err))
	}

	adapter := func(p backend) Provider {
		return &ProviderAdapter{provider: p, name: entry.Name, providerType: entry.Provider, timeout: timeout}
	}
	upstream := entry.UpstreamModel()

	switch entry.Provider {
	case "openai", "groq":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
			if entry.Provider == "groq" {
				baseURL = config.DefaultGroqBaseURL
			}
		}

		if entry.APIKey == "" {
			return nil, triageErrors.Validation(fmt.Sprintf("API key required for %s provider", entry.Provider))
		}

		return adapter(openaiProvider.New(entry.Provider, entry.APIKey, baseURL, upstream)), nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}

		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = config.DefaultOllamaAPIKey
		}

		return adapter(openaiProvider.New("ollama", apiKey, baseURL, upstream)), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, triageErrors.Validation("API key required for Anthropic provider")
		}

		return adapter(anthropicProvider.New(entry.APIKey, entry.BaseURL, upstream)), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, triageErrors.Validation("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey, entry.BaseURL, upstream)
		if err != nil {
			return nil, triageErrors.WrapWithCategory(err, "failed to create Gemini provider", triageErrors.ErrInternal)
		}

		return adapter(provider), nil

	case "command":
		provider, err := commandProvider.New(entry.Command, upstream)
		if err != nil {
			return nil, triageErrors.WrapWithCategory(err, "failed to create command provider", triageErrors.ErrInternal)
		}

		return adapter(provider), nil

	default:
		return nil, triageErrors.Validation(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}

var _ ModelRouter = (*DefaultModelRouter)(nil)
