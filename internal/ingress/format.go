package ingress

import (
	"log/slog"
	"strings"

	"github.com/harunnryd/medtriage/internal/guardrail"
	"github.com/harunnryd/medtriage/internal/triage"
)

const (
	StatusChat     = "chat"
	StatusComplete = "complete"

	FallbackMessage = "I'm sorry, I'm having trouble understanding these symptoms. Could you describe them in more detail or send a photo?"
)

// Response is the body of a successful /ask call.
type Response struct {
	Status  string                `json:"status" yaml:"status"`
	Message string                `json:"message,omitempty" yaml:"message,omitempty"`
	Report  *triage.MedicalReport `json:"report,omitempty" yaml:"report,omitempty"`
}

func fallback() Response {
	return Response{Status: StatusChat, Message: FallbackMessage}
}

// Format turns an orchestrator result into the response body. Anything that
// cannot be shown to the patient degrades to the canned fallback.
func Format(result *triage.Result, maxItems int) Response {
	if result == nil {
		slog.Warn("No result to format, using fallback")
		return fallback()
	}

	switch result.Kind {
	case triage.KindChat:
		if strings.TrimSpace(result.Message) == "" {
			slog.Warn("Chat result has no message, using fallback")
			return fallback()
		}
		return Response{Status: StatusChat, Message: result.Message}
	case triage.KindReport:
		if result.Report == nil {
			slog.Warn("Report result has no report, using fallback")
			return fallback()
		}
		report, err := guardrail.ScrubReport(*result.Report, maxItems)
		if err != nil {
			slog.Warn("Report scrub failed, using fallback", "error", err)
			return fallback()
		}
		return Response{Status: StatusComplete, Report: &report}
	case triage.KindExhausted:
		slog.Warn("Turn budget exhausted, using fallback", "turns", result.Turns)
		return fallback()
	default:
		slog.Warn("Unknown result kind, using fallback", "kind", result.Kind)
		return fallback()
	}
}
