package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateStructured runs a prompt expected to return JSON and decodes
// it into T. Markdown code fences around the payload are stripped; a
// parse failure is surfaced to the caller rather than papered over with
// a zero value and nil error.
func GenerateStructured[T any](ctx context.Context, r *Router, providerID, prompt string, opts Options) (T, error) {
	var out T
	text, err := r.Generate(ctx, providerID, prompt, opts)
	if err != nil {
		return out, err
	}
	cleaned := StripCodeFence(text)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, fmt.Errorf("parse structured output: %w", err)
	}
	return out, nil
}

// StripCodeFence removes a single wrapping Markdown code fence, with or
// without a language tag, leaving other text untouched.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. ```json.
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
