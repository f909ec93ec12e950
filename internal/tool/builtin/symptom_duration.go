package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	toolcore "github.com/harunnryd/medtriage/internal/tool"
)

func init() {
	toolcore.RegisterBuiltin("symptom_duration", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &SymptomDurationTool{now: options.Now}, nil
	})
}

// SymptomDurationTool turns "since 2026-10-01" or "3 days" into a day count
// and an onset date.
type SymptomDurationTool struct {
	now func() time.Time
}

func (t *SymptomDurationTool) Name() string {
	return "symptom_duration"
}

func (t *SymptomDurationTool) Description() string {
	return "Convert when symptoms started (an ISO date like 2026-10-01 or a phrase like '3 days', '2 weeks', 'yesterday') into a number of days and an onset date."
}

func (t *SymptomDurationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"since": map[string]interface{}{
				"type":        "string",
				"minLength":   1,
				"description": "Start date (YYYY-MM-DD) or how long ago, e.g. '3 days'",
			},
			"utc_offset": map[string]interface{}{
				"type":        "string",
				"description": "Patient UTC offset like +07:00 (optional)",
			},
		},
		"required": []string{"since"},
	}
}

type durationPayload struct {
	Days      int    `json:"days"`
	OnsetDate string `json:"onset_date"`
	Today     string `json:"today"`
	UTCOffset string `json:"utc_offset"`
	Summary   string `json:"summary"`
}

func (t *SymptomDurationTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Since     string `json:"since"`
		UTCOffset string `json:"utc_offset"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	today := now().UTC()
	offset := strings.TrimSpace(args.UTCOffset)
	if offset != "" {
		seconds, err := parseUTCOffset(offset)
		if err != nil {
			return nil, &toolcore.ValidationError{Details: []string{err.Error()}}
		}
		today = today.Add(time.Duration(seconds) * time.Second)
	}
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	days, err := daysSince(args.Since, today)
	if err != nil {
		return nil, &toolcore.ValidationError{Details: []string{err.Error()}}
	}

	return json.Marshal(durationPayload{
		Days:      days,
		OnsetDate: today.AddDate(0, 0, -days).Format("2006-01-02"),
		Today:     today.Format("2006-01-02"),
		UTCOffset: offsetOrUTC(offset),
		Summary:   describeDays(days),
	})
}

var relativeDuration = regexp.MustCompile(`^(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|a few|few|several)\s*(hours?|days?|weeks?|months?|years?)(\s+ago)?$`)

var wordNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"a few": 3, "few": 3, "several": 3,
}

// maxSymptomDays bounds durations at 150 years.
const maxSymptomDays = 150 * 365

var unitDays = map[string]int{"day": 1, "week": 7, "month": 30, "year": 365}

func daysSince(since string, today time.Time) (int, error) {
	days, err := parseDaysSince(since, today)
	if err != nil {
		return 0, err
	}
	if days > maxSymptomDays {
		return 0, fmt.Errorf("duration %q is longer than %d days", since, maxSymptomDays)
	}
	return days, nil
}

func parseDaysSince(since string, today time.Time) (int, error) {
	s := strings.ToLower(strings.TrimSpace(since))
	for _, prefix := range []string{"since ", "for ", "about ", "around "} {
		s = strings.TrimPrefix(s, prefix)
	}

	switch s {
	case "":
		return 0, fmt.Errorf("since is empty")
	case "today", "this morning", "tonight":
		return 0, nil
	case "yesterday", "last night":
		return 1, nil
	}

	if start, err := time.Parse("2006-01-02", s); err == nil {
		if start.After(today) {
			return 0, fmt.Errorf("start date %s is in the future", s)
		}
		return int(today.Sub(start).Hours() / 24), nil
	}

	m := relativeDuration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("cannot interpret %q as a date or duration", since)
	}

	n, ok := wordNumbers[m[1]]
	if !ok {
		parsed, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("cannot interpret %q as a number", m[1])
		}
		n = parsed
	}
	unit := strings.TrimSuffix(m[2], "s")
	if unit == "hour" {
		return n / 24, nil
	}
	perUnit := unitDays[unit]
	if n > maxSymptomDays/perUnit {
		return 0, fmt.Errorf("duration %q is longer than %d days", since, maxSymptomDays)
	}
	return n * perUnit, nil
}

func describeDays(days int) string {
	switch {
	case days == 0:
		return "started today"
	case days == 1:
		return "1 day"
	case days < 14:
		return fmt.Sprintf("%d days", days)
	case days < 60:
		return fmt.Sprintf("%d days (about %d weeks)", days, days/7)
	default:
		return fmt.Sprintf("%d days (about %d months)", days, days/30)
	}
}

func parseUTCOffset(offset string) (int, error) {
	if len(offset) != 6 {
		return 0, fmt.Errorf("invalid utc_offset format")
	}
	if offset[0] != '+' && offset[0] != '-' {
		return 0, fmt.Errorf("invalid utc_offset sign")
	}
	if offset[3] != ':' {
		return 0, fmt.Errorf("invalid utc_offset format")
	}
	if offset[1] < '0' || offset[1] > '9' ||
		offset[2] < '0' || offset[2] > '9' ||
		offset[4] < '0' || offset[4] > '9' ||
		offset[5] < '0' || offset[5] > '9' {
		return 0, fmt.Errorf("invalid utc_offset format")
	}

	hours := int(offset[1]-'0')*10 + int(offset[2]-'0')
	minutes := int(offset[4]-'0')*10 + int(offset[5]-'0')
	if hours > 23 || minutes > 59 {
		return 0, fmt.Errorf("invalid utc_offset value")
	}

	totalSeconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		totalSeconds = -totalSeconds
	}
	return totalSeconds, nil
}

func offsetOrUTC(in string) string {
	if strings.TrimSpace(in) == "" {
		return "+00:00"
	}
	return in
}
