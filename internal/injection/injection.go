// Package injection flags text that looks like a prompt-injection attempt.
// Detection only logs; callers decide whether to act on the result.
package injection

import (
	"log/slog"
	"strings"
)

// Default high-risk phrases (case-insensitive).
var defaultPatterns = []string{
	"ignore previous",
	"ignore all previous",
	"disregard previous",
	"system prompt",
	"simulated mode",
}

// ScanResult holds the result of a prompt-injection scan.
type ScanResult struct {
	Detected bool     // true if any high-risk pattern was found
	Patterns []string // matched phrases
}

// Scan checks text for high-risk prompt-injection keywords and returns a ScanResult.
func Scan(text string) ScanResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return ScanResult{}
	}
	lower := strings.ToLower(text)
	var matched []string
	for _, p := range defaultPatterns {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return ScanResult{}
	}
	return ScanResult{Detected: true, Patterns: matched}
}

// Check scans text and logs a warning naming source when a pattern matches.
// A nil logger uses slog.Default().
func Check(logger *slog.Logger, source, text string) ScanResult {
	r := Scan(text)
	if !r.Detected {
		return r
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("possible prompt injection", "source", source, "patterns", r.Patterns)
	return r
}
