package llm

import (
	"strings"
	"testing"
)

func TestParseVerdict_PlainJSON(t *testing.T) {
	raw := `{"is_bot": true, "confidence": 0.82, "bot_type": "ScriptingLibrary", "name": "NightScraper", "reasoning": "no browser headers"}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("ParseVerdict failed: %v", err)
	}
	if !v.IsBot || v.Confidence != 0.82 {
		t.Errorf("Parsed verdict wrong: %+v", v)
	}
	if v.BotType != "ScriptingLibrary" || v.Name != "NightScraper" {
		t.Errorf("Parsed classification wrong: %+v", v)
	}
}

func TestParseVerdict_FencedWithPreamble(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"is_bot\": false, \"confidence\": 0.4, \"bot_type\": \"Unknown\", \"reasoning\": \"plausible browser\"}\n```\nLet me know if you need more."

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("ParseVerdict should tolerate fences and prose: %v", err)
	}
	if v.IsBot || v.Confidence != 0.4 {
		t.Errorf("Parsed verdict wrong: %+v", v)
	}
}

func TestParseVerdict_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Empty completion", ""},
		{"No JSON object", "the client is probably a bot"},
		{"Broken JSON", `{"is_bot": true, "confidence":`},
		{"Confidence out of range", `{"is_bot": true, "confidence": 1.4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseVerdict(tt.raw); err == nil {
				t.Errorf("Expected parse failure for %q", tt.raw)
			}
		})
	}
}

func TestPathSkeleton(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/users/1041/orders", "/users/:id/orders"},
		{"/products/electronics", "/products/electronics"},
		{"/session/550e8400e29b41d4a716446655440000", "/session/:id"},
	}
	for _, tt := range tests {
		if got := PathSkeleton(tt.path); got != tt.want {
			t.Errorf("PathSkeleton(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}

	long := "/a/" + strings.Repeat("x", 300)
	if got := PathSkeleton(long); len(got) > 130 {
		t.Errorf("Skeleton should be truncated, got %d chars", len(got))
	}
}
