package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/medtriage/internal/retrieval"
	toolcore "github.com/harunnryd/medtriage/internal/tool"
	"github.com/harunnryd/medtriage/internal/triage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKnowledge struct {
	gotK int
	docs []retrieval.RetrievedDocument
	err  error
}

func (f *fakeKnowledge) Query(ctx context.Context, text string, k int) ([]retrieval.RetrievedDocument, error) {
	f.gotK = k
	return f.docs, f.err
}

func newExecutor(t *testing.T, options toolcore.BuiltinOptions) *toolcore.Executor {
	t.Helper()
	registry, err := toolcore.NewBuiltinRegistry(options)
	require.NoError(t, err)
	return toolcore.NewExecutor(registry, nil, time.Second)
}

func TestBuiltinsRegistered(t *testing.T) {
	assert.Equal(t, []string{"calculate", "provide_response", "search_medical_knowledge", "symptom_duration"}, toolcore.BuiltinNames())
	assert.True(t, toolcore.IsBuiltinName(" provide_response "))
}

func TestProvideResponse(t *testing.T) {
	exec := newExecutor(t, toolcore.BuiltinOptions{})

	res := exec.Execute(context.Background(), ProvideResponseName, json.RawMessage(`{"action":"message","message_to_patient":"How long has it hurt?"}`), 0)
	require.True(t, res.OK, res.Details)
	args, err := triage.ParseResponseArgs(res.Output)
	require.NoError(t, err)
	msg, ok := args.Message()
	assert.True(t, ok)
	assert.Equal(t, "How long has it hurt?", msg)

	res = exec.Execute(context.Background(), ProvideResponseName, json.RawMessage(`{"action":"final_report","report_data":`+fullReport+`}`), 0)
	require.True(t, res.OK, res.Details)
}

const fullReport = `{"reported_summary":"cough","reported_symptoms":"cough, sore throat","sickness_duration":"3 days","ai_primary_diagnosis":"cold","ai_diagnosis_reasoning":"short dry cough","ai_suggested_management":["rest"],"ai_recommended_specializations":["General practice"],"ai_confidence_score":0.7}`

func TestProvideResponse_AcceptsNullOptionalFields(t *testing.T) {
	exec := newExecutor(t, toolcore.BuiltinOptions{})

	cases := map[string]string{
		"message with null report": `{"action":"message","message_to_patient":"How long has it hurt?","report_data":null}`,
		"report with null fields":  `{"action":"final_report","message_to_patient":null,"report_data":` + strings.Replace(fullReport, `"ai_confidence_score":0.7`, `"ai_confidence_score":0.7,"ai_critical_warning":null`, 1) + `}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			res := exec.Execute(context.Background(), ProvideResponseName, json.RawMessage(input), 0)
			assert.True(t, res.OK, res.Details)
		})
	}
}

func TestProvideResponse_Rejections(t *testing.T) {
	exec := newExecutor(t, toolcore.BuiltinOptions{})

	cases := map[string]string{
		"unknown action":         `{"action":"shout"}`,
		"missing message":        `{"action":"message"}`,
		"both payloads":          `{"action":"message","message_to_patient":"hi","report_data":{"reported_summary":"x","ai_primary_diagnosis":"y","ai_suggested_management":["z"],"ai_confidence_score":0.5}}`,
		"confidence over one":    `{"action":"final_report","report_data":{"reported_summary":"x","ai_primary_diagnosis":"y","ai_suggested_management":["z"],"ai_confidence_score":1.5}}`,
		"report without summary": `{"action":"final_report","report_data":{"ai_primary_diagnosis":"y","ai_suggested_management":["z"],"ai_confidence_score":0.5}}`,
	}
	for _, field := range []string{"reported_symptoms", "sickness_duration", "ai_diagnosis_reasoning", "ai_recommended_specializations"} {
		var report map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(fullReport), &report))
		delete(report, field)
		raw, err := json.Marshal(map[string]interface{}{"action": "final_report", "report_data": report})
		require.NoError(t, err)
		cases["report without "+field] = string(raw)
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			res := exec.Execute(context.Background(), ProvideResponseName, json.RawMessage(input), 0)
			assert.Equal(t, toolcore.KindValidation, res.ErrorKind)
		})
	}
}

func TestSearchKnowledge(t *testing.T) {
	kb := &fakeKnowledge{docs: []retrieval.RetrievedDocument{
		{ID: "1", Title: "Influenza", Source: "MedlinePlus", SourceURL: "https://m/flu", Text: "Disease/Topic: Influenza\nDescription: a long description", Distance: 0.5},
	}}
	exec := newExecutor(t, toolcore.BuiltinOptions{Knowledge: kb, DefaultK: 4, SnippetLength: 10})

	res := exec.Execute(context.Background(), "search_medical_knowledge", json.RawMessage(`{"query":"fever"}`), 0)
	require.True(t, res.OK, res.Details)
	assert.Equal(t, 4, kb.gotK)

	var out struct {
		Results []searchHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Influenza", out.Results[0].Title)
	assert.Equal(t, "Disease/To...", out.Results[0].Snippet)

	res = exec.Execute(context.Background(), "search_medical_knowledge", json.RawMessage(`{"query":"fever","k":2}`), 0)
	require.True(t, res.OK)
	assert.Equal(t, 2, kb.gotK)
}

func TestSearchKnowledge_Errors(t *testing.T) {
	exec := newExecutor(t, toolcore.BuiltinOptions{Knowledge: &fakeKnowledge{err: errors.New("index offline")}})

	res := exec.Execute(context.Background(), "search_medical_knowledge", json.RawMessage(`{"query":"fever","k":11}`), 0)
	assert.Equal(t, toolcore.KindValidation, res.ErrorKind)

	res = exec.Execute(context.Background(), "search_medical_knowledge", json.RawMessage(`{"query":""}`), 0)
	assert.Equal(t, toolcore.KindValidation, res.ErrorKind)

	res = exec.Execute(context.Background(), "search_medical_knowledge", json.RawMessage(`{"query":"fever"}`), 0)
	assert.Equal(t, toolcore.KindFailed, res.ErrorKind)
	assert.Contains(t, res.Details, "index offline")

	exec = newExecutor(t, toolcore.BuiltinOptions{})
	res = exec.Execute(context.Background(), "search_medical_knowledge", json.RawMessage(`{"query":"fever"}`), 0)
	assert.Equal(t, toolcore.KindFailed, res.ErrorKind)
}

func TestCalculate(t *testing.T) {
	exec := newExecutor(t, toolcore.BuiltinOptions{})

	tests := []struct {
		input string
		want  float64
	}{
		{`{"a":2,"b":3,"op":"add"}`, 5},
		{`{"a":2,"b":3,"op":"sub"}`, -1},
		{`{"a":2.5,"b":4,"op":"mul"}`, 10},
		{`{"a":9,"b":3,"op":"div"}`, 3},
	}
	for _, tt := range tests {
		res := exec.Execute(context.Background(), "calculate", json.RawMessage(tt.input), 0)
		require.True(t, res.OK, res.Details)
		var out map[string]float64
		require.NoError(t, json.Unmarshal(res.Output, &out))
		assert.InDelta(t, tt.want, out["result"], 1e-9, tt.input)
	}

	res := exec.Execute(context.Background(), "calculate", json.RawMessage(`{"a":1,"b":0,"op":"div"}`), 0)
	assert.Equal(t, toolcore.KindFailed, res.ErrorKind)
	assert.Equal(t, "division by zero", res.Details)

	res = exec.Execute(context.Background(), "calculate", json.RawMessage(`{"a":1,"b":2,"op":"pow"}`), 0)
	assert.Equal(t, toolcore.KindValidation, res.ErrorKind)
}

func TestSymptomDuration(t *testing.T) {
	fixed := func() time.Time { return time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC) }
	exec := newExecutor(t, toolcore.BuiltinOptions{Now: fixed})

	tests := []struct {
		since  string
		offset string
		days   int
		onset  string
	}{
		{"3 days", "", 3, "2026-10-15"},
		{"for 2 weeks", "", 14, "2026-10-04"},
		{"a few days ago", "", 3, "2026-10-15"},
		{"yesterday", "", 1, "2026-10-17"},
		{"today", "", 0, "2026-10-18"},
		{"2026-10-01", "", 17, "2026-10-01"},
		{"36 hours", "", 1, "2026-10-17"},
		{"yesterday", "+07:00", 1, "2026-10-18"},
	}
	for _, tt := range tests {
		t.Run(tt.since+tt.offset, func(t *testing.T) {
			input, _ := json.Marshal(map[string]string{"since": tt.since, "utc_offset": tt.offset})
			res := exec.Execute(context.Background(), "symptom_duration", input, 0)
			require.True(t, res.OK, res.Details)

			var out durationPayload
			require.NoError(t, json.Unmarshal(res.Output, &out))
			assert.Equal(t, tt.days, out.Days)
			assert.Equal(t, tt.onset, out.OnsetDate)
		})
	}
}

func TestSymptomDuration_Invalid(t *testing.T) {
	fixed := func() time.Time { return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC) }
	exec := newExecutor(t, toolcore.BuiltinOptions{Now: fixed})

	for _, input := range []string{
		`{"since":"whenever"}`,
		`{"since":"2027-01-01"}`,
		`{"since":"3 days","utc_offset":"0700"}`,
		`{"since":"99999999999999999 years"}`,
		`{"since":"151 years"}`,
		`{"since":"1700-01-01"}`,
	} {
		res := exec.Execute(context.Background(), "symptom_duration", json.RawMessage(input), 0)
		assert.Equal(t, toolcore.KindValidation, res.ErrorKind, input)
	}
}

func TestDaysSince_Bounds(t *testing.T) {
	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	days, err := daysSince("150 years", today)
	require.NoError(t, err)
	assert.Equal(t, maxSymptomDays, days)

	_, err = daysSince("99999999999999999 years", today)
	assert.ErrorContains(t, err, "longer than")

	days, err = daysSince("60000 hours", today)
	require.NoError(t, err)
	assert.Equal(t, 2500, days)

	_, err = daysSince("9999999999 hours", today)
	assert.ErrorContains(t, err, "longer than")
}

func TestParseUTCOffset(t *testing.T) {
	secs, err := parseUTCOffset("-05:30")
	require.NoError(t, err)
	assert.Equal(t, -(5*3600 + 30*60), secs)

	_, err = parseUTCOffset("+24:00")
	assert.Error(t, err)
}
