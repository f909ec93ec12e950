package orchestrator

import (
	"encoding/json"
	"strings"

	triageErrors "github.com/harunnryd/medtriage/internal/errors"
)

// RepairJSON turns loosely formatted tool arguments into a JSON object. It
// strips markdown fences, takes the first balanced object, converts single
// quoted strings and Python literals, and drops trailing commas. repaired is
// false when raw was already valid.
func RepairJSON(raw string) (out json.RawMessage, repaired bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return json.RawMessage(`{}`), false, nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), false, nil
	}

	s = cleanModelJSON(s)
	if obj := extractFirstBalancedJSON(s, '{', '}'); obj != "" {
		s = obj
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true, nil
	}

	s = normalizeLooseJSON(s)
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true, nil
	}

	return nil, false, triageErrors.Validation("function call arguments must be valid JSON")
}

func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractFirstBalancedJSON(input string, open, close byte) string {
	start := -1
	depth := 0
	var quote byte
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if quote != 0 {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == quote {
				quote = 0
			}
			continue
		}

		switch ch {
		case '"', '\'':
			if depth > 0 {
				quote = ch
			}
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}

var pythonLiterals = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "null",
}

// normalizeLooseJSON rewrites the non-JSON spellings models commonly emit.
// Content inside strings is left alone apart from quote escaping.
func normalizeLooseJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"' || ch == '\'':
			i = copyString(&b, s, i)
		case ch == ',':
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(ch)
		case isIdentStart(ch):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			word := s[i:j]
			if lit, ok := pythonLiterals[word]; ok {
				word = lit
			}
			b.WriteString(word)
			i = j - 1
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// copyString writes the string literal starting at s[start] as a double
// quoted JSON string and returns the index of its closing quote.
func copyString(b *strings.Builder, s string, start int) int {
	quote := s[start]
	b.WriteByte('"')
	for i := start + 1; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			next := s[i+1]
			if next == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			i++
		case ch == quote:
			b.WriteByte('"')
			return i
		case ch == '"':
			b.WriteString(`\"`)
		case ch == '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte('"')
	return len(s) - 1
}

func isJSONSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
