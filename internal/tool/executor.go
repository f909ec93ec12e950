package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/medtriage/internal/concurrency"
	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/logger"
	"github.com/harunnryd/medtriage/internal/model/contract"
)

const (
	DefaultTimeout  = 3 * time.Second
	DefaultPoolSize = 8
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindNotAllowed ErrorKind = "tool_not_allowed"
	KindTimeout    ErrorKind = "timeout"
	KindFailed     ErrorKind = "tool_failed"
)

// Result is the outcome of one tool call. Either OK is set and Output holds
// the tool's JSON, or ErrorKind says what went wrong.
type Result struct {
	OK        bool
	Output    json.RawMessage
	ErrorKind ErrorKind
	Details   string
}

func okResult(output json.RawMessage) Result {
	if len(output) == 0 {
		output = json.RawMessage(`null`)
	}
	return Result{OK: true, Output: output}
}

func failure(kind ErrorKind, details string) Result {
	return Result{ErrorKind: kind, Details: details}
}

// JSON renders the result as the tool message content the model sees.
func (r Result) JSON() json.RawMessage {
	var (
		raw []byte
		err error
	)
	if r.OK {
		raw, err = json.Marshal(struct {
			OK     bool            `json:"ok"`
			Result json.RawMessage `json:"result"`
		}{OK: true, Result: r.Output})
	} else {
		raw, err = json.Marshal(struct {
			Error   ErrorKind `json:"error"`
			Details string    `json:"details,omitempty"`
		}{Error: r.ErrorKind, Details: r.Details})
	}
	if err != nil {
		// Output was not valid JSON; report it as a tool failure instead.
		raw, _ = json.Marshal(map[string]string{"error": string(KindFailed), "details": "tool returned invalid JSON"})
	}
	return raw
}

// Err returns the typed error for outcomes that end a conversation. Outcomes
// the model can correct return nil.
func (r Result) Err(name string) error {
	switch r.ErrorKind {
	case KindTimeout:
		return triageErrors.ToolTimeout(fmt.Sprintf("tool %s timed out", name))
	case KindFailed:
		return triageErrors.ToolError(fmt.Sprintf("tool %s failed", name))
	default:
		return nil
	}
}

// Executor validates and runs tool calls on a bounded pool with a deadline.
type Executor struct {
	registry *Registry
	pool     *concurrency.Pool
	timeout  time.Duration
}

func NewExecutor(registry *Registry, pool *concurrency.Pool, timeout time.Duration) *Executor {
	if pool == nil {
		pool = concurrency.NewPool(DefaultPoolSize)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{registry: registry, pool: pool, timeout: timeout}
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// Definitions forwards to the registry.
func (e *Executor) Definitions(names ...string) []contract.ToolDef {
	return e.registry.Definitions(names...)
}

// Execute runs the named tool. A zero timeout uses the executor default.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) Result {
	log := logger.FromContext(ctx).With("tool", NormalizeToolName(name))

	ent, ok := e.registry.lookup(name)
	if !ok {
		log.Warn("Tool not allowed")
		return failure(KindNotAllowed, fmt.Sprintf("unknown tool %q", NormalizeToolName(name)))
	}

	if err := validate(ent.schema, args); err != nil {
		log.Warn("Tool input validation failed", "error", err)
		return failure(KindValidation, err.Error())
	}

	if timeout <= 0 {
		timeout = e.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := concurrency.Run(callCtx, e.pool, func(ctx context.Context) (json.RawMessage, error) {
		return ent.tool.Execute(ctx, args)
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		log.Info("Tool execution success", "duration", duration)
		return okResult(out)
	case ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		log.Warn("Tool execution timed out", "timeout", timeout)
		return failure(KindTimeout, fmt.Sprintf("exceeded %s", timeout))
	case errors.Is(err, concurrency.ErrPanic):
		log.Error("Tool panicked", "error", err, "duration", duration)
		return failure(KindFailed, "tool panicked")
	case IsValidationError(err):
		log.Warn("Tool rejected input", "error", err)
		return failure(KindValidation, err.Error())
	default:
		log.Error("Tool execution failed", "error", err, "duration", duration)
		return failure(KindFailed, err.Error())
	}
}
