package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Detection.GlobalBudgetMs != 150 {
		t.Errorf("Expected 150ms default pipeline budget, got %d", cfg.Detection.GlobalBudgetMs)
	}
	if cfg.Detection.BotThreshold != 0.7 {
		t.Errorf("Expected 0.7 default bot threshold, got %g", cfg.Detection.BotThreshold)
	}
	if cfg.LLM.TriggerLow != 0.35 || cfg.LLM.TriggerHigh != 0.75 {
		t.Errorf("Expected default LLM trigger band [0.35, 0.75], got [%g, %g]",
			cfg.LLM.TriggerLow, cfg.LLM.TriggerHigh)
	}
	if cfg.State.RecentNamesCapacity != 200 {
		t.Errorf("Expected 200-name de-dup queue, got %d", cfg.State.RecentNamesCapacity)
	}
}

func TestLoad_FileAndEnvMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	doc := `
server:
  port: "9001"
detection:
  global_budget_ms: 200
  overrides:
    UserAgent:
      enabled: false
      weights:
        empty_ua: 2.5
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9002")
	t.Setenv("SIGNATURE_SECRET", "unit-test-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Env wins over file.
	if cfg.Server.Port != "9002" {
		t.Errorf("Expected env PORT to override file, got %s", cfg.Server.Port)
	}
	if cfg.Detection.GlobalBudgetMs != 200 {
		t.Errorf("Expected file budget 200, got %d", cfg.Detection.GlobalBudgetMs)
	}

	ov, ok := cfg.Detection.Overrides["UserAgent"]
	if !ok {
		t.Fatalf("Expected UserAgent override to be parsed")
	}
	if ov.Enabled == nil || *ov.Enabled {
		t.Errorf("Expected enabled=false override")
	}
	if ov.Weights["empty_ua"] != 2.5 {
		t.Errorf("Expected weight override 2.5, got %g", ov.Weights["empty_ua"])
	}
}

func TestValidate_ProductionRequiresSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Env = "production"

	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected production mode without a secret to be fatal")
	}

	cfg = Defaults()
	cfg.Server.Env = "production"
	cfg.Detection.SecretKey = DevSecret
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected production mode with the dev secret to be fatal")
	}
}

func TestValidate_DemoModeFatalInProduction(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Env = "production"
	cfg.Detection.SecretKey = "strong-secret"
	cfg.Server.DemoMode = true

	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected demo mode in production to be fatal")
	}
}

func TestValidate_DevFallsBackToInsecureSecret(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Development mode should accept a missing secret: %v", err)
	}
	if cfg.Detection.SecretKey != DevSecret {
		t.Errorf("Expected dev secret fallback, got %q", cfg.Detection.SecretKey)
	}
}

func TestValidate_TriggerBandOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Detection.SecretKey = "s"
	cfg.LLM.TriggerLow = 0.8
	cfg.LLM.TriggerHigh = 0.4

	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected inverted trigger band to be rejected")
	}
}
