package research

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"
)

// Model is the language-model invocation service the engine depends on.
// Implementations must honor ctx and return an error wrapping
// context.Canceled when the call is aborted.
type Model interface {
	Generate(ctx context.Context, system, user string, temperature float64) (string, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(ctx context.Context, system, user string, temperature float64) (string, error)

func (f ModelFunc) Generate(ctx context.Context, system, user string, temperature float64) (string, error) {
	return f(ctx, system, user, temperature)
}

const codeFence = "```"

// stripCodeFence removes one optional leading fence line (```json or ```)
// and one optional trailing fence. Nothing else is cleaned up.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, codeFence) {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = stripFenceLanguage(strings.TrimPrefix(s, codeFence))
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, codeFence)
	return strings.TrimSpace(s)
}

// stripFenceLanguage drops a language tag such as "json" that directly
// follows an opening fence on the same line as the payload.
func stripFenceLanguage(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '+'
	})
	if end <= 0 {
		return s
	}
	rest := strings.TrimSpace(s[end:])
	if strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "[") {
		return rest
	}
	return s
}

// decodeStructured parses model output into v after stripping a fence.
func decodeStructured(stage, text string, v any) error {
	if err := json.Unmarshal([]byte(stripCodeFence(text)), v); err != nil {
		return &ParseError{Stage: stage, Raw: text, Err: err}
	}
	return nil
}
