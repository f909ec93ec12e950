package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/medtriage/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, reply string) (*httptest.Server, *map[string]any, *string) {
	t.Helper()
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &body, &path
}

func TestGenerate_ForcedToolAndImages(t *testing.T) {
	srv, body, path := capture(t, `{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"c1","type":"function","function":{"name":"provide_response","arguments":"{\"action\":\"message\",\"message\":\"hi\"}"}}]}}]}`)

	p := New("groq", "key", srv.URL, "llama")
	resp, err := p.Generate(context.Background(), contract.CompletionRequest{
		Model: "ignored",
		Messages: []contract.Message{
			{Role: "system", Content: "triage"},
			{Role: "user", Content: "rash", Images: []contract.ImagePart{{MIME: "image/png", Data: "AAAA"}}},
		},
		Tools:       []contract.ToolDef{{Name: "provide_response", Description: "terminal"}},
		ToolChoice:  "provide_response",
		Temperature: contract.Float32(0.3),
	})
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", *path)
	assert.Equal(t, "llama", (*body)["model"])
	choice := (*body)["tool_choice"].(map[string]any)
	assert.Equal(t, "provide_response", choice["function"].(map[string]any)["name"])

	msgs := (*body)["messages"].([]any)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,AAAA", img["url"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "c1", resp.ToolCalls[0].ID)
	assert.Equal(t, "provide_response", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"action":"message","message":"hi"}`, resp.ToolCalls[0].Input)
}

func TestGenerate_NoToolsOmitsToolChoice(t *testing.T) {
	srv, body, _ := capture(t, `{"choices":[{"message":{"role":"assistant","content":"plain"}}]}`)

	p := New("ollama", "ollama", srv.URL, "")
	resp, err := p.Generate(context.Background(), contract.CompletionRequest{
		Model:    "m",
		Messages: []contract.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Content)
	assert.Equal(t, "m", (*body)["model"])
	_, has := (*body)["tool_choice"]
	assert.False(t, has)
}

func TestGenerate_NoChoices(t *testing.T) {
	srv, _, _ := capture(t, `{"choices":[]}`)

	p := New("openai", "key", srv.URL, "m")
	_, err := p.Generate(context.Background(), contract.CompletionRequest{})
	assert.ErrorContains(t, err, "no choices")
}

func TestComplete(t *testing.T) {
	srv, body, path := capture(t, `{"choices":[{"text":" rest and fluids"}]}`)

	p := New("ollama", "ollama", srv.URL, "gpt-neo")
	out, err := p.Complete(context.Background(), contract.PromptRequest{Prompt: "Advice:", MaxTokens: 120})
	require.NoError(t, err)
	assert.Equal(t, " rest and fluids", out)
	assert.Equal(t, "/completions", *path)
	assert.Equal(t, "gpt-neo", (*body)["model"])
	assert.EqualValues(t, 120, (*body)["max_tokens"])
}

func TestEmbed(t *testing.T) {
	srv, body, _ := capture(t, `{"data":[{"embedding":[0.5,0.25]}]}`)

	p := New("ollama", "ollama", srv.URL, "all-minilm")
	vec, err := p.Embed(context.Background(), "fever")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
	assert.Equal(t, "all-minilm", (*body)["model"])
}
