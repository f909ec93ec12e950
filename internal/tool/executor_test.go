package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/medtriage/internal/concurrency"
	triageErrors "github.com/harunnryd/medtriage/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name  string
	calls atomic.Int32
	run   func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string"},
		},
		"required": []string{"q"},
	}
}
func (t *stubTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	t.calls.Add(1)
	return t.run(ctx, input)
}

func echoTool(name string) *stubTool {
	return &stubTool{name: name, run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	}}
}

func newTestExecutor(t *testing.T, tools ...Tool) *Executor {
	t.Helper()
	registry := NewRegistry()
	for _, tl := range tools {
		require.NoError(t, registry.Register(tl))
	}
	return NewExecutor(registry, concurrency.NewPool(2), 200*time.Millisecond)
}

func TestRegistry_RegisterAndDefinitions(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool("zeta")))
	require.NoError(t, registry.Register(echoTool(" alpha ")))

	err := registry.Register(echoTool("zeta"))
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Error(t, registry.Register(echoTool("  ")))

	_, ok := registry.Get("alpha")
	assert.True(t, ok)

	all := registry.Definitions()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "zeta", all[1].Name)

	picked := registry.Definitions("zeta", "missing", "alpha", "zeta")
	require.Len(t, picked, 2)
	assert.Equal(t, "zeta", picked[0].Name)
	assert.Equal(t, "alpha", picked[1].Name)
	assert.Equal(t, "stub zeta", picked[0].Description)
}

func TestExecutor_UnknownTool(t *testing.T) {
	exec := newTestExecutor(t)
	res := exec.Execute(context.Background(), "rm_rf", json.RawMessage(`{}`), 0)
	assert.False(t, res.OK)
	assert.Equal(t, KindNotAllowed, res.ErrorKind)
	assert.NoError(t, res.Err("rm_rf"))
}

func TestExecutor_ValidationSkipsTool(t *testing.T) {
	tl := echoTool("echo")
	exec := newTestExecutor(t, tl)

	res := exec.Execute(context.Background(), "echo", json.RawMessage(`{"q": 5}`), 0)
	assert.Equal(t, KindValidation, res.ErrorKind)
	assert.NotEmpty(t, res.Details)
	assert.Equal(t, int32(0), tl.calls.Load())
}

func TestExecutor_Success(t *testing.T) {
	exec := newTestExecutor(t, echoTool("echo"))

	res := exec.Execute(context.Background(), "echo", json.RawMessage(`{"q":"hi"}`), 0)
	require.True(t, res.OK)
	assert.JSONEq(t, `{"ok":true,"result":{"q":"hi"}}`, string(res.JSON()))
}

func TestExecutor_Timeout(t *testing.T) {
	slow := &stubTool{name: "slow", run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		time.Sleep(300 * time.Millisecond)
		return json.RawMessage(`{}`), nil
	}}
	exec := newTestExecutor(t, slow)

	start := time.Now()
	res := exec.Execute(context.Background(), "slow", json.RawMessage(`{"q":"x"}`), 20*time.Millisecond)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, KindTimeout, res.ErrorKind)
	assert.True(t, errors.Is(res.Err("slow"), triageErrors.ErrToolTimeout))
}

func TestExecutor_FailureAndPanic(t *testing.T) {
	failing := &stubTool{name: "failing", run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("upstream 500")
	}}
	panicking := &stubTool{name: "panicking", run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		panic("boom")
	}}
	exec := newTestExecutor(t, failing, panicking)

	res := exec.Execute(context.Background(), "failing", json.RawMessage(`{"q":"x"}`), 0)
	assert.Equal(t, KindFailed, res.ErrorKind)
	assert.Equal(t, "upstream 500", res.Details)
	assert.True(t, errors.Is(res.Err("failing"), triageErrors.ErrToolError))

	res = exec.Execute(context.Background(), "panicking", json.RawMessage(`{"q":"x"}`), 0)
	assert.Equal(t, KindFailed, res.ErrorKind)
	assert.JSONEq(t, `{"error":"tool_failed","details":"tool panicked"}`, string(res.JSON()))
}

func TestExecutor_ToolValidationErrorIsFedBack(t *testing.T) {
	picky := &stubTool{name: "picky", run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, &ValidationError{Details: []string{"action must match payload"}}
	}}
	exec := newTestExecutor(t, picky)

	res := exec.Execute(context.Background(), "picky", json.RawMessage(`{"q":"x"}`), 0)
	assert.Equal(t, KindValidation, res.ErrorKind)
	assert.Contains(t, res.Details, "action must match payload")
	assert.NoError(t, res.Err("picky"))
}

func TestResult_JSONWithInvalidOutput(t *testing.T) {
	res := Result{OK: true, Output: json.RawMessage(`{not json`)}
	assert.JSONEq(t, `{"error":"tool_failed","details":"tool returned invalid JSON"}`, string(res.JSON()))

	assert.JSONEq(t, `{"ok":true,"result":null}`, string(okResult(nil).JSON()))
}
