package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	toolcore "github.com/harunnryd/medtriage/internal/tool"
)

func init() {
	toolcore.RegisterBuiltin("search_medical_knowledge", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &SearchKnowledgeTool{
			knowledge:     options.Knowledge,
			defaultK:      options.DefaultK,
			snippetLength: options.SnippetLength,
		}, nil
	})
}

// SearchKnowledgeTool looks up MedlinePlus topics in the loaded knowledge base.
type SearchKnowledgeTool struct {
	knowledge     toolcore.KnowledgeSearcher
	defaultK      int
	snippetLength int
}

func (t *SearchKnowledgeTool) Name() string {
	return "search_medical_knowledge"
}

func (t *SearchKnowledgeTool) Description() string {
	return "Search the medical knowledge base for conditions matching a symptom description. Returns titles, sources and short snippets."
}

func (t *SearchKnowledgeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"minLength":   1,
				"description": "Symptoms or condition to look up",
			},
			"k": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     10,
				"description": "Number of results (optional)",
			},
		},
		"required": []string{"query"},
	}
}

type searchHit struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Source    string  `json:"source"`
	SourceURL string  `json:"source_url,omitempty"`
	Snippet   string  `json:"snippet"`
	Distance  float32 `json:"distance"`
}

func (t *SearchKnowledgeTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if t.knowledge == nil {
		return nil, errors.New("knowledge base is not available")
	}

	k := args.K
	if k <= 0 {
		k = t.defaultK
	}

	docs, err := t.knowledge.Query(ctx, args.Query, k)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}

	hits := make([]searchHit, 0, len(docs))
	for _, doc := range docs {
		hits = append(hits, searchHit{
			ID:        doc.ID,
			Title:     doc.Title,
			Source:    doc.Source,
			SourceURL: doc.SourceURL,
			Snippet:   snippet(doc.Text, t.snippetLength),
			Distance:  doc.Distance,
		})
	}

	return json.Marshal(map[string]interface{}{
		"query":   args.Query,
		"results": hits,
	})
}

func snippet(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
