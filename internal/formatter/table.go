package formatter

import (
	"fmt"
	"strings"

	"github.com/harunnryd/medtriage/internal/ingress"
	"github.com/harunnryd/medtriage/internal/retrieval"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	warningStyle lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	teal := lipgloss.Color("37")
	red := lipgloss.Color("160")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(teal).
			Bold(true).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1).
			Width(60),
		warningStyle: lipgloss.NewStyle().
			Foreground(red).
			Bold(true).
			Padding(0, 1).
			Width(60),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(teal),
	}
}

// FormatResponse prints a chat message as plain text and a report as a
// two-column table.
func (f *TableFormatter) FormatResponse(resp ingress.Response) (string, error) {
	if resp.Report == nil {
		return resp.Message, nil
	}
	r := resp.Report

	warningRow := -1
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case col == 0:
				return f.headerStyle
			case row == warningRow:
				return f.warningStyle
			default:
				return f.cellStyle
			}
		})

	t.Row("Summary", r.ReportedSummary)
	t.Row("Symptoms", r.ReportedSymptoms)
	t.Row("Duration", r.SicknessDuration)
	t.Row("Diagnosis", r.AIPrimaryDiagnosis)
	t.Row("Reasoning", r.AIDiagnosisReasoning)
	t.Row("Management", bulletList(r.AISuggestedManagement))
	t.Row("Specialists", strings.Join(r.AIRecommendedSpecializations, ", "))
	t.Row("Confidence", fmt.Sprintf("%.0f%%", r.AIConfidenceScore*100))
	if r.AICriticalWarning != nil && strings.TrimSpace(*r.AICriticalWarning) != "" {
		warningRow = 8
		t.Row("Warning", *r.AICriticalWarning)
	}

	return t.String(), nil
}

func (f *TableFormatter) FormatDocuments(docs []retrieval.RetrievedDocument) (string, error) {
	if len(docs) == 0 {
		return "No documents found", nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("#", "ID", "Title", "Distance", "Source")

	for i, doc := range docs {
		t.Row(
			fmt.Sprintf("%d", i+1),
			doc.ID,
			truncateString(doc.Title, 40),
			fmt.Sprintf("%.4f", doc.Distance),
			truncateString(doc.SourceURL, 50),
		)
	}

	return t.String(), nil
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
