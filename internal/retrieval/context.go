package retrieval

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const DefaultContextBudget = 8000

// BuildContext renders documents in rank order until the next chunk would push
// the character total past budget. Documents are never cut. Separators between
// chunks do not count against the budget.
func BuildContext(docs []RetrievedDocument, budget int) string {
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	var chunks []string
	used := 0
	for _, doc := range docs {
		chunk := fmt.Sprintf("--- DOCUMENT ID: %s ---\nSOURCE: %s\nCONTENT:\n%s\n", doc.ID, doc.Source, doc.Text)
		n := utf8.RuneCountInString(chunk)
		if used+n > budget {
			slog.Warn("Context budget reached", "docs", len(chunks), "chars", used, "budget", budget)
			break
		}
		chunks = append(chunks, chunk)
		used += n
	}

	return strings.Join(chunks, "\n\n")
}
