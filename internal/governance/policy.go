package governance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/conductor/config"
)

// Policy is the YAML override layer for governance settings. Fields left
// unset in the file keep the configured value; pointers distinguish "absent"
// from an explicit false.
type Policy struct {
	MaxInputChars     int      `yaml:"max_input_chars"`
	RateLimitPerMin   int      `yaml:"rate_limit_per_min"`
	RequireModeration *bool    `yaml:"require_moderation"`
	EnableHITL        *bool    `yaml:"enable_hitl"`
	ApprovalFile      string   `yaml:"approval_file"`
	DryRun            *bool    `yaml:"dry_run"`
	AllowedTools      []string `yaml:"allowed_tools"`
}

// LoadPolicy reads the governance policy YAML referenced by the config and
// returns the config with the file's overrides applied. An unset policy_file
// returns the config unchanged.
func LoadPolicy(cfg config.GovernanceConfig) (config.GovernanceConfig, error) {
	path := strings.TrimSpace(cfg.PolicyFile)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read policy: %w", err)
	}
	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return cfg, fmt.Errorf("parse policy: %w", err)
	}
	if pol.MaxInputChars > 0 {
		cfg.MaxInputChars = pol.MaxInputChars
	}
	if pol.RateLimitPerMin > 0 {
		cfg.RateLimitPerMin = pol.RateLimitPerMin
	}
	if pol.RequireModeration != nil {
		cfg.RequireModeration = *pol.RequireModeration
	}
	if pol.EnableHITL != nil {
		cfg.EnableHITL = *pol.EnableHITL
	}
	if strings.TrimSpace(pol.ApprovalFile) != "" {
		cfg.ApprovalFile = pol.ApprovalFile
	}
	if pol.DryRun != nil {
		cfg.DryRun = *pol.DryRun
	}
	if len(pol.AllowedTools) > 0 {
		cfg.AllowedTools = pol.AllowedTools
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, nil
}
