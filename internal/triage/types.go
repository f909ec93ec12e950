// Package triage holds the request-scoped domain records shared by the
// orchestrator, the tool catalog and the HTTP boundary.
package triage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ChatMessage is one prior turn supplied by the caller.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Image is an inline attachment, already base64 encoded.
type Image struct {
	Data string `json:"data"`
	MIME string `json:"mime"`
}

// DataURI renders the image as a data: URI.
func (i Image) DataURI() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, i.Data)
}

type MedicalReport struct {
	ReportedSummary              string   `json:"reported_summary" yaml:"reported_summary"`
	ReportedSymptoms             string   `json:"reported_symptoms" yaml:"reported_symptoms"`
	SicknessDuration             string   `json:"sickness_duration" yaml:"sickness_duration"`
	AIPrimaryDiagnosis           string   `json:"ai_primary_diagnosis" yaml:"ai_primary_diagnosis"`
	AIDiagnosisReasoning         string   `json:"ai_diagnosis_reasoning" yaml:"ai_diagnosis_reasoning"`
	AISuggestedManagement        []string `json:"ai_suggested_management" yaml:"ai_suggested_management"`
	AICriticalWarning            *string  `json:"ai_critical_warning,omitempty" yaml:"ai_critical_warning,omitempty"`
	AIRecommendedSpecializations []string `json:"ai_recommended_specializations" yaml:"ai_recommended_specializations"`
	AIConfidenceScore            float64  `json:"ai_confidence_score" yaml:"ai_confidence_score"`
}

// Validate enforces the report invariants. Every field except
// ai_critical_warning is required.
func (r MedicalReport) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"reported_summary", r.ReportedSummary},
		{"reported_symptoms", r.ReportedSymptoms},
		{"sickness_duration", r.SicknessDuration},
		{"ai_primary_diagnosis", r.AIPrimaryDiagnosis},
		{"ai_diagnosis_reasoning", r.AIDiagnosisReasoning},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	if len(r.AISuggestedManagement) == 0 {
		return fmt.Errorf("ai_suggested_management must not be empty")
	}
	if len(r.AIRecommendedSpecializations) == 0 {
		return fmt.Errorf("ai_recommended_specializations must not be empty")
	}
	if math.IsNaN(r.AIConfidenceScore) || r.AIConfidenceScore < 0 || r.AIConfidenceScore > 1 {
		return fmt.Errorf("ai_confidence_score must be within [0, 1], got %v", r.AIConfidenceScore)
	}
	return nil
}

type Action string

const (
	ActionMessage     Action = "message"
	ActionFinalReport Action = "final_report"
)

// ResponseArgs is the terminal tool payload. Exactly one of the variants is
// populated; construct it with NewMessage, NewFinalReport or ParseResponseArgs.
type ResponseArgs struct {
	action  Action
	message string
	report  *MedicalReport
}

func NewMessage(text string) (ResponseArgs, error) {
	if strings.TrimSpace(text) == "" {
		return ResponseArgs{}, fmt.Errorf("message_to_patient is required when action is %q", ActionMessage)
	}
	return ResponseArgs{action: ActionMessage, message: text}, nil
}

func NewFinalReport(report MedicalReport) (ResponseArgs, error) {
	if err := report.Validate(); err != nil {
		return ResponseArgs{}, fmt.Errorf("report_data: %w", err)
	}
	return ResponseArgs{action: ActionFinalReport, report: &report}, nil
}

func (a ResponseArgs) Action() Action { return a.action }

// Message returns the patient-facing text of a message variant.
func (a ResponseArgs) Message() (string, bool) {
	return a.message, a.action == ActionMessage
}

// Report returns the report of a final_report variant.
func (a ResponseArgs) Report() (MedicalReport, bool) {
	if a.action != ActionFinalReport || a.report == nil {
		return MedicalReport{}, false
	}
	return *a.report, true
}

type responseArgsWire struct {
	Action           Action          `json:"action"`
	MessageToPatient *string         `json:"message_to_patient,omitempty"`
	ReportData       json.RawMessage `json:"report_data,omitempty"`
}

// ParseResponseArgs decodes the wire form and rejects combinations where the
// payload does not match the tag.
func ParseResponseArgs(raw []byte) (ResponseArgs, error) {
	var wire responseArgsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ResponseArgs{}, fmt.Errorf("decode response args: %w", err)
	}

	hasMessage := wire.MessageToPatient != nil && strings.TrimSpace(*wire.MessageToPatient) != ""
	hasReport := len(wire.ReportData) > 0 && string(wire.ReportData) != "null"

	switch wire.Action {
	case ActionMessage:
		if hasReport {
			return ResponseArgs{}, fmt.Errorf("report_data must be empty when action is %q", ActionMessage)
		}
		if !hasMessage {
			return ResponseArgs{}, fmt.Errorf("message_to_patient is required when action is %q", ActionMessage)
		}
		return NewMessage(*wire.MessageToPatient)
	case ActionFinalReport:
		if hasMessage {
			return ResponseArgs{}, fmt.Errorf("message_to_patient must be empty when action is %q", ActionFinalReport)
		}
		if !hasReport {
			return ResponseArgs{}, fmt.Errorf("report_data is required when action is %q", ActionFinalReport)
		}
		var report MedicalReport
		if err := json.Unmarshal(wire.ReportData, &report); err != nil {
			return ResponseArgs{}, fmt.Errorf("decode report_data: %w", err)
		}
		return NewFinalReport(report)
	default:
		return ResponseArgs{}, fmt.Errorf("unknown action %q", wire.Action)
	}
}

func (a ResponseArgs) MarshalJSON() ([]byte, error) {
	wire := struct {
		Action           Action         `json:"action"`
		MessageToPatient string         `json:"message_to_patient,omitempty"`
		ReportData       *MedicalReport `json:"report_data,omitempty"`
	}{Action: a.action, MessageToPatient: a.message, ReportData: a.report}
	return json.Marshal(wire)
}

type ResultKind string

const (
	KindChat      ResultKind = "chat"
	KindReport    ResultKind = "report"
	KindExhausted ResultKind = "exhausted"
)

// Result is what one orchestrator run hands to the boundary.
type Result struct {
	Kind    ResultKind
	Message string
	Report  *MedicalReport
	Turns   int
}

func ChatResult(message string, turns int) *Result {
	return &Result{Kind: KindChat, Message: message, Turns: turns}
}

func ReportResult(report MedicalReport, turns int) *Result {
	return &Result{Kind: KindReport, Report: &report, Turns: turns}
}

// FromResponse maps a terminal tool payload to a result.
func FromResponse(args ResponseArgs, turns int) *Result {
	if report, ok := args.Report(); ok {
		return ReportResult(report, turns)
	}
	msg, _ := args.Message()
	return ChatResult(msg, turns)
}
