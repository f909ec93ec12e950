// Package orchestrator drives one triage conversation: retrieval context,
// bounded model turns, tool dispatch and the terminal provide_response call.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/medtriage/internal/config"
	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/guardrail"
	"github.com/harunnryd/medtriage/internal/logger"
	"github.com/harunnryd/medtriage/internal/model/contract"
	"github.com/harunnryd/medtriage/internal/retrieval"
	"github.com/harunnryd/medtriage/internal/tool"
	"github.com/harunnryd/medtriage/internal/triage"

	"golang.org/x/sync/singleflight"
)

const (
	// ProvideResponseTool is the terminal tool name.
	ProvideResponseTool = "provide_response"

	LocalApology       = "I'm sorry, I couldn't process your request right now. Please try again later."
	argsPreviewLength  = 200
	defaultRetrievalK  = 5
	backendsFlightName = "backends"
)

type Mode string

const (
	ModeAPI   Mode = "api"
	ModeLocal Mode = "local"
)

func (m Mode) Valid() bool {
	return m == ModeAPI || m == ModeLocal
}

// State names the conversation phases, for logs.
type State string

const (
	StateAwaitingContext State = "awaiting_context"
	StateModelCall       State = "model_call"
	StateToolDispatch    State = "tool_dispatch"
	StatePlainText       State = "plain_text_result"
	StateFinalAnswer     State = "final_answer"
	StateBudgetExhausted State = "turn_budget_exhausted"
)

type Request struct {
	Message      string
	History      []triage.ChatMessage
	Images       []triage.Image
	K            int
	Mode         Mode
	UseFunctions bool
}

type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]retrieval.RetrievedDocument, error)
}

type Tools interface {
	Execute(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) tool.Result
	Definitions(names ...string) []contract.ToolDef
}

type Config struct {
	MaxTurns       int
	ContextBudget  int
	Temperature    float32
	ModelTimeout   time.Duration
	RequestTimeout time.Duration
	ToolTimeout    time.Duration
	LocalMaxTokens int
	SystemPrompt   string
	LocalPrompt    string
	Retry          RetryPolicy
}

// NewConfig resolves the orchestrator and tools settings.
func NewConfig(cfg config.OrchestratorConfig, tools config.ToolsConfig) (Config, error) {
	modelTimeout, err := config.DurationOrDefault(cfg.ModelTimeout, config.DefaultOrchestratorModelTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("parse orchestrator.model_timeout: %w", err)
	}
	requestTimeout, err := config.DurationOrDefault(cfg.RequestTimeout, config.DefaultOrchestratorRequestTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("parse orchestrator.request_timeout: %w", err)
	}
	backoff, err := config.DurationOrDefault(cfg.RetryBackoff, config.DefaultOrchestratorRetryBackoff)
	if err != nil {
		return Config{}, fmt.Errorf("parse orchestrator.retry_backoff: %w", err)
	}
	toolTimeout, err := config.DurationOrDefault(tools.Timeout, config.DefaultToolsTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("parse tools.timeout: %w", err)
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = config.DefaultOrchestratorTemperature
	}
	systemPrompt := cfg.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = config.DefaultSystemPrompt
	}
	localPrompt := cfg.LocalPrompt
	if strings.TrimSpace(localPrompt) == "" {
		localPrompt = config.DefaultLocalPrompt
	}

	retry := DefaultRetryPolicy()
	retry.MaxAttempts = config.IntOrDefault(cfg.RetryMax, config.DefaultOrchestratorRetryMax)
	retry.Backoff = backoff

	return Config{
		MaxTurns:       config.IntOrDefault(cfg.MaxTurns, config.DefaultOrchestratorMaxTurns),
		ContextBudget:  config.IntOrDefault(cfg.ContextBudget, config.DefaultOrchestratorContextBudget),
		Temperature:    float32(temperature),
		ModelTimeout:   modelTimeout,
		RequestTimeout: requestTimeout,
		ToolTimeout:    toolTimeout,
		LocalMaxTokens: config.IntOrDefault(cfg.LocalMaxTokens, config.DefaultOrchestratorLocalMaxTokens),
		SystemPrompt:   systemPrompt,
		LocalPrompt:    localPrompt,
		Retry:          retry,
	}, nil
}

type Orchestrator struct {
	cfg       Config
	retriever Retriever
	tools     Tools
	factory   BackendFactory

	group    singleflight.Group
	mu       sync.RWMutex
	backends *Backends
}

type Option func(*Orchestrator)

// WithBackends installs ready backends and skips the factory.
func WithBackends(b Backends) Option {
	return func(o *Orchestrator) {
		o.backends = &b
	}
}

func New(cfg Config, retriever Retriever, tools Tools, factory BackendFactory, opts ...Option) *Orchestrator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = config.DefaultOrchestratorMaxTurns
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = config.DefaultOrchestratorTemperature
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	o := &Orchestrator{
		cfg:       cfg,
		retriever: retriever,
		tools:     tools,
		factory:   factory,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chat runs a guarded, retried conversation attempt for req.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*triage.Result, error) {
	if _, err := guardrail.GuardInput(req.Message); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = ModeAPI
	}
	if !req.Mode.Valid() {
		return nil, triageErrors.Validation(fmt.Sprintf("mode must be %q or %q", ModeAPI, ModeLocal))
	}
	if req.K <= 0 {
		req.K = defaultRetrievalK
	}

	runCtx := ctx
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := Do(runCtx, o.cfg.Retry, func(ctx context.Context, attempt int) (*triage.Result, error) {
		logger.FromContext(ctx).Info("Conversation attempt", "attempt", attempt, "mode", req.Mode, "use_functions", req.UseFunctions)
		return o.chatOnce(ctx, req)
	})
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.FromContext(ctx).Warn("Conversation deadline exceeded", "timeout", o.cfg.RequestTimeout, "error", err)
		return nil, triageErrors.ToolTimeout("conversation timed out")
	}
	return result, err
}

func (o *Orchestrator) chatOnce(ctx context.Context, req Request) (*triage.Result, error) {
	log := logger.FromContext(ctx)

	log.Debug("Conversation state", "state", StateAwaitingContext)
	ragText := o.ragContext(ctx, req.Message, req.K)

	if req.Mode == ModeLocal {
		return o.runLocal(ctx, req.Message, ragText)
	}

	backends, err := o.backendsFor(ctx)
	if err != nil || backends.Chat == nil {
		log.Error("Chat backend unavailable", "error", err)
		return nil, triageErrors.ToolError("provider error")
	}

	messages := buildMessages(o.cfg.SystemPrompt, req, ragText)
	defs, allowed := o.toolSet(req.UseFunctions)
	choice := contract.ToolChoiceAuto
	if len(defs) == 1 {
		choice = ProvideResponseTool
	}

	for turn := 1; turn <= o.cfg.MaxTurns; turn++ {
		log.Debug("Conversation state", "state", StateModelCall, "turn", turn)

		resp, err := o.callModel(ctx, backends.Chat, contract.CompletionRequest{
			Messages:    messages,
			Tools:       defs,
			ToolChoice:  choice,
			Temperature: contract.Float32(o.cfg.Temperature),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Error("Provider call failed", "turn", turn, "error", err)
			return nil, triageErrors.ToolError("provider error")
		}

		if len(resp.ToolCalls) == 0 {
			log.Debug("Conversation state", "state", StatePlainText, "turn", turn)
			if strings.TrimSpace(resp.Content) == "" {
				log.Warn("Model returned neither a tool call nor text", "turn", turn)
				return nil, triageErrors.EmptyModelOutput("model returned no tool call and no text")
			}
			log.Warn("Model answered without a tool call, using text content", "turn", turn)
			return triage.ChatResult(resp.Content, turn), nil
		}

		log.Info("Model requested tools", "turn", turn, "count", len(resp.ToolCalls))
		messages = append(messages, contract.Message{
			Role:      string(triage.RoleAssistant),
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			log.Debug("Conversation state", "state", StateToolDispatch, "turn", turn, "tool", call.Name)

			res, final := o.dispatch(ctx, call, allowed)
			if final != nil {
				log.Info("Conversation state", "state", StateFinalAnswer, "turn", turn, "action", final.Action())
				return triage.FromResponse(*final, turn), nil
			}
			if err := res.Err(call.Name); err != nil {
				log.Error("Tool call ended the conversation", "tool", call.Name, "kind", res.ErrorKind, "details", res.Details)
				return nil, err
			}

			messages = append(messages, contract.Message{
				Role:       string(triage.RoleTool),
				Content:    string(res.JSON()),
				Name:       call.Name,
				ToolCallID: call.ID,
			})
		}
	}

	log.Warn("Conversation state", "state", StateBudgetExhausted, "max_turns", o.cfg.MaxTurns)
	return &triage.Result{Kind: triage.KindExhausted, Turns: o.cfg.MaxTurns}, nil
}

func (o *Orchestrator) callModel(ctx context.Context, backend ChatBackend, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if o.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ModelTimeout)
		defer cancel()
	}
	resp, err := backend.ChatComplete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &contract.CompletionResponse{}, nil
	}
	return resp, nil
}

// dispatch runs one tool call. final is set when provide_response carried a
// valid payload.
func (o *Orchestrator) dispatch(ctx context.Context, call *contract.ToolCall, allowed map[string]bool) (tool.Result, *triage.ResponseArgs) {
	log := logger.FromContext(ctx).With("tool", call.Name)

	args, repaired, err := RepairJSON(call.Input)
	if err != nil {
		log.Warn("Tool arguments are not valid JSON", "preview", preview(call.Input))
		return tool.Result{ErrorKind: tool.KindValidation, Details: triageErrors.Detail(err)}, nil
	}
	if repaired {
		log.Warn("Tool arguments repaired", "repaired", true, "preview", preview(string(args)))
	}

	if !allowed[call.Name] {
		log.Warn("Model called a tool that was not offered")
		return tool.Result{ErrorKind: tool.KindNotAllowed, Details: fmt.Sprintf("tool %q is not available", call.Name)}, nil
	}

	res := o.tools.Execute(ctx, call.Name, args, o.cfg.ToolTimeout)
	if call.Name != ProvideResponseTool || !res.OK {
		return res, nil
	}

	final, err := triage.ParseResponseArgs(res.Output)
	if err != nil {
		return tool.Result{ErrorKind: tool.KindValidation, Details: err.Error()}, nil
	}
	return res, &final
}

func (o *Orchestrator) toolSet(useFunctions bool) ([]contract.ToolDef, map[string]bool) {
	defs := o.tools.Definitions(ProvideResponseTool)
	if useFunctions {
		for _, def := range o.tools.Definitions() {
			if def.Name != ProvideResponseTool {
				defs = append(defs, def)
			}
		}
	}

	allowed := make(map[string]bool, len(defs))
	for _, def := range defs {
		allowed[def.Name] = true
	}
	return defs, allowed
}

func (o *Orchestrator) ragContext(ctx context.Context, message string, k int) string {
	if o.retriever == nil || strings.TrimSpace(message) == "" {
		return ""
	}

	docs, err := o.retriever.Query(ctx, message, k*2)
	if err != nil {
		logger.FromContext(ctx).Error("Retrieval failed, continuing without context", "error", err)
		return ""
	}
	return retrieval.BuildContext(docs, o.cfg.ContextBudget)
}

func (o *Orchestrator) runLocal(ctx context.Context, message, ragText string) (*triage.Result, error) {
	log := logger.FromContext(ctx)

	text, err := o.completeLocal(ctx, message, ragText)
	if err != nil {
		log.Error("Local model failed", "error", err)
		text = LocalApology
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, triageErrors.EmptyModelOutput("local model returned no text")
	}
	return triage.ChatResult(text, 1), nil
}

func (o *Orchestrator) completeLocal(ctx context.Context, message, ragText string) (string, error) {
	backends, err := o.backendsFor(ctx)
	if err != nil {
		return "", err
	}
	if backends.Local == nil {
		return "", errors.New("no local backend configured")
	}

	if o.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ModelTimeout)
		defer cancel()
	}

	prompt := strings.NewReplacer("{rag}", ragText, "{message}", message).Replace(o.cfg.LocalPrompt)
	return backends.Local.Complete(ctx, contract.PromptRequest{
		Prompt:      prompt,
		MaxTokens:   config.IntOrDefault(o.cfg.LocalMaxTokens, config.DefaultOrchestratorLocalMaxTokens),
		Temperature: contract.Float32(o.cfg.Temperature),
	})
}

// backendsFor returns the installed backends, building them once through the
// factory. A failed build is not cached.
func (o *Orchestrator) backendsFor(ctx context.Context) (Backends, error) {
	o.mu.RLock()
	b := o.backends
	o.mu.RUnlock()
	if b != nil {
		return *b, nil
	}
	if o.factory == nil {
		return Backends{}, errors.New("no model backends configured")
	}

	v, err, _ := o.group.Do(backendsFlightName, func() (interface{}, error) {
		o.mu.RLock()
		existing := o.backends
		o.mu.RUnlock()
		if existing != nil {
			return *existing, nil
		}

		built, err := o.factory(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		o.mu.Lock()
		o.backends = &built
		o.mu.Unlock()
		logger.FromContext(ctx).Info("Model backends initialized")
		return built, nil
	})
	if err != nil {
		return Backends{}, err
	}
	return v.(Backends), nil
}

func buildMessages(systemPrompt string, req Request, ragText string) []contract.Message {
	messages := make([]contract.Message, 0, len(req.History)+2)
	messages = append(messages, contract.Message{Role: string(triage.RoleSystem), Content: systemPrompt})

	for _, m := range req.History {
		role := m.Role
		// Caller history carries no tool call ids; providers reject orphan tool turns.
		if role == triage.RoleTool {
			role = triage.RoleAssistant
		}
		messages = append(messages, contract.Message{Role: string(role), Content: m.Content})
	}

	user := contract.Message{
		Role:    string(triage.RoleUser),
		Content: fmt.Sprintf("RAG Context:\n%s\n\nPatient Description:\n%s", ragText, req.Message),
	}
	for _, img := range req.Images {
		mime := img.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		user.Images = append(user.Images, contract.ImagePart{MIME: mime, Data: img.Data, Detail: "auto"})
	}
	return append(messages, user)
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= argsPreviewLength {
		return s
	}
	return string(runes[:argsPreviewLength]) + "..."
}
