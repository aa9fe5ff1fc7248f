package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the structured classification parsed from a completion.
type Verdict struct {
	IsBot      bool    `json:"is_bot"`
	Confidence float64 `json:"confidence"`
	BotType    string  `json:"bot_type"`
	Name       string  `json:"name"`
	Reasoning  string  `json:"reasoning"`
	Pattern    string  `json:"pattern"`
}

// ParseVerdict extracts the verdict from raw completion text. Models wrap
// JSON in code fences or preamble more often than not, so the parser
// strips fences, locates the outermost brace pair, and only then decodes.
func ParseVerdict(raw string) (Verdict, error) {
	var v Verdict

	cleaned := stripFences(raw)
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return v, fmt.Errorf("no JSON object in completion")
	}

	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
		return v, fmt.Errorf("verdict JSON invalid: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return v, fmt.Errorf("verdict confidence %g outside [0,1]", v.Confidence)
	}
	v.Name = strings.TrimSpace(v.Name)
	v.Reasoning = strings.TrimSpace(v.Reasoning)
	return v, nil
}

// stripFences removes markdown code fences, with or without a language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the language tag line ("json", "JSON", ...)
		first := strings.TrimSpace(s[:i])
		if len(first) <= 8 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
