// Package guardrail screens untrusted patient text before it reaches a model
// and normalizes model output before it reaches the caller.
package guardrail

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	triageErrors "github.com/harunnryd/medtriage/internal/errors"
)

// InjectionThreshold is the number of distinct injection patterns that must
// match before input is rejected.
const InjectionThreshold = 2

var traversalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/|\\)`),
	regexp.MustCompile(`(?i)\.\.(%2f|%5c)`),
	regexp.MustCompile(`(\./){2,}`),
}

// Patterns run against normalized text: lowercase, alphanumerics and single spaces.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(ignore|disregard|forget|override|bypass)\b.{0,30}\b(instructions?|rules|guidelines|prompt|directives)\b`),
	regexp.MustCompile(`\b(all|previous|prior|above|earlier)( the)? (instructions|rules|directives)\b`),
	regexp.MustCompile(`\b(reveal|show|print|leak|repeat|output)\b.{0,30}\bsystem prompt\b`),
	regexp.MustCompile(`\bsystem prompt\b`),
	regexp.MustCompile(`\bjailbreak\w*\b`),
	regexp.MustCompile(`\b(developer|dan|god) mode\b`),
	regexp.MustCompile(`\b(you are now|act as|pretend (to be|you are)|roleplay as)\b`),
	regexp.MustCompile(`\b(no (restrictions|limits|filters)|unrestricted|unfiltered)\b`),
	regexp.MustCompile(`\bdo anything now\b`),
}

// GuardInput rejects path traversal in the raw text and prompt injection in
// the normalized text, and returns the normalized text.
func GuardInput(text string) (string, error) {
	for _, p := range traversalPatterns {
		if p.MatchString(text) {
			slog.Warn("Input blocked", "reason", "path_traversal", "pattern", p.String())
			return "", triageErrors.SecurityBlocked("path traversal pattern detected")
		}
	}

	normalized := Normalize(text)

	matched := make([]string, 0, InjectionThreshold)
	for _, p := range injectionPatterns {
		if p.MatchString(normalized) {
			matched = append(matched, p.String())
		}
	}
	if len(matched) >= InjectionThreshold {
		slog.Warn("Input blocked", "reason", "prompt_injection", "matches", len(matched))
		return "", triageErrors.SecurityBlocked("potential prompt injection detected")
	}
	if len(matched) > 0 {
		slog.Debug("Single injection signal tolerated", "pattern", matched[0])
	}

	return normalized, nil
}

// Normalize lowercases text, replaces every non-alphanumeric rune with a space
// and collapses whitespace.
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}
