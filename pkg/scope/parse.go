package scope

import (
	"fmt"
	"strings"
)

// extractJSONBlock finds the structured payload inside a completion
// that may wrap it in markdown fences or surround it with prose.
func extractJSONBlock(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}

	if fenced, ok := stripFence(text); ok {
		text = fenced
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object found")
	}
	return text[start : end+1], nil
}

// stripFence unwraps the first ```...``` block, tolerating a language
// tag after the opening fence.
func stripFence(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		// drop the language tag line ("json", "JSON", or empty)
		rest = rest[newline+1:]
	}
	close := strings.Index(rest, "```")
	if close < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:close]), true
}
