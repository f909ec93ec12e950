package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/harunnryd/medtriage/internal/model/contract"

	"github.com/google/shlex"
)

const (
	promptPlaceholder    = "{prompt}"
	maxTokensPlaceholder = "{max_tokens}"
	modelPlaceholder     = "{model}"
)

// Provider runs a local generator binary once per request. The prompt is
// substituted for {prompt} in the command line, or written to stdin when the
// command has no placeholder.
type Provider struct {
	argv  []string
	model string
}

func New(commandLine, model string) (*Provider, error) {
	argv, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("command not found: %w", err)
	}
	return &Provider{argv: argv, model: model}, nil
}

func (p *Provider) Name() string {
	return "command"
}

func (p *Provider) Complete(ctx context.Context, req contract.PromptRequest) (string, error) {
	args, usesStdin := p.render(req)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if usesStdin {
		cmd.Stdin = strings.NewReader(req.Prompt)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("local command failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	// Many generators echo the prompt before the continuation.
	out := stdout.String()
	out = strings.TrimPrefix(out, req.Prompt)
	return strings.TrimSpace(out), nil
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	var b strings.Builder
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant:")

	text, err := p.Complete(ctx, contract.PromptRequest{
		Model:       req.Model,
		Prompt:      b.String(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &contract.CompletionResponse{Content: text}, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding not supported by command provider")
}

func (p *Provider) render(req contract.PromptRequest) ([]string, bool) {
	model := p.model
	if model == "" {
		model = req.Model
	}
	maxTokens := ""
	if req.MaxTokens > 0 {
		maxTokens = strconv.Itoa(req.MaxTokens)
	}

	usesStdin := true
	args := make([]string, len(p.argv))
	for i, a := range p.argv {
		if strings.Contains(a, promptPlaceholder) {
			usesStdin = false
		}
		a = strings.ReplaceAll(a, promptPlaceholder, req.Prompt)
		a = strings.ReplaceAll(a, maxTokensPlaceholder, maxTokens)
		a = strings.ReplaceAll(a, modelPlaceholder, model)
		args[i] = a
	}
	return args, usesStdin
}
