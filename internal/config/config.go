// Package config loads and validates the orchestrator's configuration
// surface: reasoning-service model identifiers, safety toggles, durations,
// and filesystem layout. Values load from YAML with environment-variable
// overrides, following the same load-then-override discipline the rest of
// this codebase's configuration layer uses.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Reasoner configures one side of the two-model peer-review contract.
type Reasoner struct {
	Model  string `yaml:"model"`
	APIURL string `yaml:"api_url"`
	Timeout string `yaml:"timeout"` // parsed via ReasonerTimeout
}

// Config is the complete orchestrator configuration.
type Config struct {
	// WorkspaceRoot is the directory containing the knowledge store, forge
	// patches/artifacts, and genetic memory index.
	WorkspaceRoot string `yaml:"workspace_root"`

	Primary  Reasoner `yaml:"primary_reasoner"`
	Reviewer Reasoner `yaml:"reviewer_reasoner"`

	SafetyEnabled      bool   `yaml:"safety_enabled"`
	StrictManifestMode bool   `yaml:"strict_manifest_mode"`
	WebhookURL         string `yaml:"webhook_url"`
	AutoRejectHigh     bool   `yaml:"auto_reject_high"`
	MaintenancePeriod  string `yaml:"maintenance_period"`
	IdlenessThreshold  string `yaml:"idleness_threshold"`
	ArchetypePrimary   string `yaml:"archetype_primary"`
	ArchetypeOverride  string `yaml:"archetype_override"`
	ShadowKey          string `yaml:"shadow_key"`
	DispatchDeadline   string `yaml:"dispatch_deadline"`
	ApprovalTimeout    string `yaml:"approval_timeout"`
	CompileTimeout     string `yaml:"compile_timeout"`

	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
}

// DefaultConfig returns the concrete defaults used when no config file is
// present, or as a base before applying file/env overrides.
func DefaultConfig() *Config {
	c := &Config{
		WorkspaceRoot: ".orchestrator",
		Primary: Reasoner{
			Model:   "primary-default",
			APIURL:  "https://api.openai.com/v1/chat/completions",
			Timeout: "60s",
		},
		Reviewer: Reasoner{
			Model:   "reviewer-default",
			APIURL:  "https://openrouter.ai/api/v1/chat/completions",
			Timeout: "60s",
		},
		SafetyEnabled:      true,
		StrictManifestMode: false,
		AutoRejectHigh:     true,
		MaintenancePeriod:  "5m",
		IdlenessThreshold:  "2m",
		ArchetypePrimary:   "companion",
		DispatchDeadline:   "30s",
		ApprovalTimeout:    "10m",
		CompileTimeout:     "30s",
	}
	c.Logging.Level = "info"
	c.Logging.JSON = true
	return c
}

// Load reads a YAML config file at path, falling back to defaults for any
// field the file omits. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ORCHESTRATOR_PRIMARY_MODEL"); v != "" {
		c.Primary.Model = v
	}
	if v := os.Getenv("ORCHESTRATOR_REVIEWER_MODEL"); v != "" {
		c.Reviewer.Model = v
	}
	if v := os.Getenv("ORCHESTRATOR_WEBHOOK_URL"); v != "" {
		c.WebhookURL = v
	}
	if v := os.Getenv("ORCHESTRATOR_SHADOW_KEY"); v != "" {
		c.ShadowKey = v
	}
	if v := os.Getenv("ORCHESTRATOR_WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
}

// Validate enforces the two-model consensus invariant (§9 Design Notes,
// "Two-model consensus is load-bearing") and basic sanity on durations.
func (c *Config) Validate() error {
	if c.Primary.Model != "" && c.Reviewer.Model != "" && c.Primary.Model == c.Reviewer.Model {
		return fmt.Errorf("reviewer model must differ from primary model, got %q for both", c.Primary.Model)
	}
	durations := map[string]string{
		"maintenance_period": c.MaintenancePeriod,
		"idleness_threshold":  c.IdlenessThreshold,
		"dispatch_deadline":   c.DispatchDeadline,
		"approval_timeout":    c.ApprovalTimeout,
		"compile_timeout":     c.CompileTimeout,
	}
	for name, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// duration parses a config duration string, falling back to def on empty or
// invalid input rather than failing a hot path.
func duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) MaintenanceInterval() time.Duration { return duration(c.MaintenancePeriod, 5*time.Minute) }
func (c *Config) IdlenessWindow() time.Duration       { return duration(c.IdlenessThreshold, 2*time.Minute) }
func (c *Config) DispatchTimeout() time.Duration      { return duration(c.DispatchDeadline, 30*time.Second) }
func (c *Config) ApprovalWindow() time.Duration       { return duration(c.ApprovalTimeout, 10*time.Minute) }
func (c *Config) CompileWindow() time.Duration        { return duration(c.CompileTimeout, 30*time.Second) }
func (c *Config) ReasonerTimeout(r Reasoner) time.Duration {
	return duration(r.Timeout, 60*time.Second)
}
