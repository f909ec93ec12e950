package guardrail

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/harunnryd/medtriage/internal/triage"
)

// DefaultMaxItems caps list-shaped model output.
const DefaultMaxItems = 3

var (
	ErrEmptyOutput      = errors.New("empty output")
	ErrNoValidItems     = errors.New("no valid items")
	ErrUnsupportedShape = errors.New("unsupported output shape")
)

// Scrubbed is either a list of items or a single scalar.
type Scrubbed struct {
	Items  []string
	Scalar string
	scalar bool
}

func (s Scrubbed) IsScalar() bool { return s.scalar }

// Values returns the items, or the scalar as a one-element list.
func (s Scrubbed) Values() []string {
	if s.scalar {
		return []string{s.Scalar}
	}
	return s.Items
}

// ScrubOutput truncates list output and normalizes delimited text output.
func ScrubOutput(value any, maxItems int) (Scrubbed, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	switch v := value.(type) {
	case []string:
		return Scrubbed{Items: truncate(v, maxItems)}, nil
	case string:
		return scrubText(v, maxItems)
	default:
		return Scrubbed{}, fmt.Errorf("%w: %T", ErrUnsupportedShape, value)
	}
}

func scrubText(text string, maxItems int) (Scrubbed, error) {
	if strings.TrimSpace(text) == "" {
		return Scrubbed{}, ErrEmptyOutput
	}

	if strings.Count(text, ",")+strings.Count(text, ";")+strings.Count(text, "\n") < 2 {
		return Scrubbed{Scalar: text, scalar: true}, nil
	}

	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})

	seen := make(map[string]struct{}, len(parts))
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(strings.ToLower(part))
		if utf8.RuneCountInString(item) < 2 {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}

	if len(items) == 0 {
		return Scrubbed{}, ErrNoValidItems
	}
	return Scrubbed{Items: truncate(items, maxItems)}, nil
}

func truncate(items []string, maxItems int) []string {
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}

// ScrubReport applies ScrubOutput to the list-shaped and delimited fields of a report.
func ScrubReport(report triage.MedicalReport, maxItems int) (triage.MedicalReport, error) {
	management, err := ScrubOutput(report.AISuggestedManagement, maxItems)
	if err != nil {
		return triage.MedicalReport{}, fmt.Errorf("ai_suggested_management: %w", err)
	}
	specializations, err := ScrubOutput(report.AIRecommendedSpecializations, maxItems)
	if err != nil {
		return triage.MedicalReport{}, fmt.Errorf("ai_recommended_specializations: %w", err)
	}

	out := report
	out.AISuggestedManagement = management.Items
	out.AIRecommendedSpecializations = specializations.Items

	if strings.TrimSpace(report.ReportedSymptoms) != "" {
		symptoms, err := ScrubOutput(report.ReportedSymptoms, maxItems)
		if err != nil {
			return triage.MedicalReport{}, fmt.Errorf("reported_symptoms: %w", err)
		}
		if symptoms.IsScalar() {
			out.ReportedSymptoms = symptoms.Scalar
		} else {
			out.ReportedSymptoms = strings.Join(symptoms.Items, ", ")
		}
	}

	if len(report.AISuggestedManagement) > len(out.AISuggestedManagement) {
		slog.Debug("Report management steps truncated", "from", len(report.AISuggestedManagement), "to", len(out.AISuggestedManagement))
	}
	return out, nil
}
