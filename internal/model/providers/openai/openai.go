package openai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/medtriage/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

// Provider speaks the OpenAI wire protocol. Groq and Ollama expose the same
// API under a different base URL, so one client type serves all three.
type Provider struct {
	client *openai.Client
	model  string
	kind   string
}

func New(kind, apiKey, baseURL, model string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if kind == "" {
		kind = "openai"
	}

	return &Provider{client: openai.NewClientWithConfig(cfg), model: model, kind: kind}
}

func (p *Provider) Name() string {
	return p.kind
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toChatMessage(m))
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     p.modelFor(req.Model),
		Messages:  messages,
		Tools:     tools,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if len(tools) > 0 {
		chatReq.ToolChoice = toolChoice(req.ToolChoice)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.kind, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	choice := resp.Choices[0]
	result := &contract.CompletionResponse{Content: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", len(result.ToolCalls)+1)
		}
		result.ToolCalls = append(result.ToolCalls, &contract.ToolCall{
			ID:    id,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}

	return result, nil
}

// Complete runs a plain text completion against the legacy completions
// endpoint, which Ollama serves for small local models.
func (p *Provider) Complete(ctx context.Context, req contract.PromptRequest) (string, error) {
	compReq := openai.CompletionRequest{
		Model:     p.modelFor(req.Model),
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		compReq.Temperature = *req.Temperature
	}

	resp, err := p.client.CreateCompletion(ctx, compReq)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", p.kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Text, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s embedding failed: %w", p.kind, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

func (p *Provider) modelFor(requested string) string {
	if p.model != "" {
		return p.model
	}
	return requested
}

func toChatMessage(m contract.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:       m.Role,
		ToolCallID: m.ToolCallID,
	}

	if len(m.Images) == 0 {
		msg.Content = m.Content
	} else {
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range m.Images {
			detail := openai.ImageURLDetailAuto
			if img.Detail != "" {
				detail = openai.ImageURLDetail(img.Detail)
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + img.MIME + ";base64," + img.Data,
					Detail: detail,
				},
			})
		}
		msg.MultiContent = parts
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Input,
			},
		})
	}

	return msg
}

func toolChoice(choice string) any {
	if name, ok := contract.ForcedTool(choice); ok {
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: name},
		}
	}
	if choice == "" {
		return contract.ToolChoiceAuto
	}
	return choice
}
