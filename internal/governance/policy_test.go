package governance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/conductor/config"
)

func TestLoadPolicyOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
max_input_chars: 2000
rate_limit_per_min: 5
require_moderation: false
dry_run: true
allowed_tools:
  - search
  - clock
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	cfg := config.GovernanceConfig{
		PolicyFile:        path,
		MaxInputChars:     5000,
		RateLimitPerMin:   30,
		RequireModeration: true,
		AllowedTools:      []string{"search", "fetch", "shell"},
	}
	got, err := LoadPolicy(cfg)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if got.MaxInputChars != 2000 || got.RateLimitPerMin != 5 {
		t.Fatalf("numeric overrides not applied: %+v", got)
	}
	if got.RequireModeration {
		t.Fatal("require_moderation override not applied")
	}
	if !got.DryRun {
		t.Fatal("dry_run override not applied")
	}
	if len(got.AllowedTools) != 2 || got.AllowedTools[1] != "clock" {
		t.Fatalf("allowed_tools override not applied: %v", got.AllowedTools)
	}
}

func TestLoadPolicyAbsentFileKeepsConfig(t *testing.T) {
	cfg := config.GovernanceConfig{MaxInputChars: 5000, RateLimitPerMin: 30}
	got, err := LoadPolicy(cfg)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if got.MaxInputChars != cfg.MaxInputChars || got.RateLimitPerMin != cfg.RateLimitPerMin {
		t.Fatalf("config changed without a policy file: %+v", got)
	}
}

func TestLoadPolicyMissingFileErrors(t *testing.T) {
	cfg := config.GovernanceConfig{PolicyFile: filepath.Join(t.TempDir(), "nope.yaml")}
	if _, err := LoadPolicy(cfg); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}
