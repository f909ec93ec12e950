package builtin

import (
	"context"
	"encoding/json"

	toolcore "github.com/harunnryd/medtriage/internal/tool"
	"github.com/harunnryd/medtriage/internal/triage"
)

const ProvideResponseName = "provide_response"

func init() {
	toolcore.RegisterBuiltin(ProvideResponseName, func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &ProvideResponseTool{}, nil
	})
}

// ProvideResponseTool is the terminal tool. Executing it only checks and
// normalizes the payload; the orchestrator ends the conversation with it.
type ProvideResponseTool struct{}

func (t *ProvideResponseTool) Name() string {
	return ProvideResponseName
}

func (t *ProvideResponseTool) Description() string {
	return "ALWAYS use this tool to communicate the final answer or ask questions to the user."
}

func (t *ProvideResponseTool) Parameters() map[string]interface{} {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	nullableStr := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": []string{"string", "null"}, "description": desc}
	}
	list := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"description": desc,
			"items":       map[string]interface{}{"type": "string"},
		}
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{string(triage.ActionMessage), string(triage.ActionFinalReport)},
				"description": "message to ask a question or reply briefly; final_report when you can give a full assessment",
			},
			"message_to_patient": nullableStr("Text shown to the patient. Required when action is message, otherwise null."),
			"report_data": map[string]interface{}{
				"type":        []string{"object", "null"},
				"description": "Structured assessment. Required when action is final_report, otherwise null.",
				"properties": map[string]interface{}{
					"reported_summary":               str("One or two sentence summary of what the patient reported"),
					"reported_symptoms":              str("Comma separated symptoms"),
					"sickness_duration":              str("How long the symptoms have lasted"),
					"ai_primary_diagnosis":           str("Most likely condition"),
					"ai_diagnosis_reasoning":         str("Why this condition fits, citing the context"),
					"ai_suggested_management":        list("Ordered next steps, most important first"),
					"ai_critical_warning":            nullableStr("Emergency warning when symptoms may be serious, otherwise null"),
					"ai_recommended_specializations": list("Medical specialties to consult"),
					"ai_confidence_score": map[string]interface{}{
						"type":        "number",
						"minimum":     0,
						"maximum":     1,
						"description": "Confidence between 0 and 1",
					},
				},
				"required": []string{
					"reported_summary",
					"reported_symptoms",
					"sickness_duration",
					"ai_primary_diagnosis",
					"ai_diagnosis_reasoning",
					"ai_suggested_management",
					"ai_recommended_specializations",
					"ai_confidence_score",
				},
			},
		},
		"required": []string{"action"},
	}
}

func (t *ProvideResponseTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	args, err := triage.ParseResponseArgs(input)
	if err != nil {
		return nil, &toolcore.ValidationError{Details: []string{err.Error()}}
	}
	return json.Marshal(args)
}
