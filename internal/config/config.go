package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models crewline.yml.
type Config struct {
	Policy struct {
		MinDaysParticipation  int  `yaml:"min_days_participation"`
		EnforceNoOverlap      bool `yaml:"enforce_no_overlap"`
		MaxConcurrentPrograms int  `yaml:"max_concurrent_programs"`
	} `yaml:"policy"`
	Scheduler struct {
		IntervalMinutes     int `yaml:"interval_minutes"`
		ReminderHoursBefore int `yaml:"reminder_hours_before_due"`
	} `yaml:"scheduler"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from the workspace. Missing file yields
// the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Policy.MinDaysParticipation < 0 {
		return fmt.Errorf("policy.min_days_participation must not be negative")
	}
	if c.Policy.MaxConcurrentPrograms < 1 {
		return fmt.Errorf("policy.max_concurrent_programs must be at least 1")
	}
	if c.Scheduler.IntervalMinutes < 1 {
		return fmt.Errorf("scheduler.interval_minutes must be at least 1")
	}
	if c.Scheduler.ReminderHoursBefore < 0 {
		return fmt.Errorf("scheduler.reminder_hours_before_due must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Policy.MinDaysParticipation = 2
	cfg.Policy.EnforceNoOverlap = true
	cfg.Policy.MaxConcurrentPrograms = 1
	cfg.Scheduler.IntervalMinutes = 5
	cfg.Scheduler.ReminderHoursBefore = 24
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Absent fields
// fall back to defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML for `cw config init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `policy:
  # Minimum locked worked days inside the program window for a team member
  # to qualify for the incentive payout.
  min_days_participation: 2
  # Block invites for workers already committed elsewhere.
  enforce_no_overlap: true
  max_concurrent_programs: 1

scheduler:
  interval_minutes: 5
  reminder_hours_before_due: 24

# webhooks:
#   - url: https://example.com/hooks/crewline
#     secret: changeme
#     events: [program.leader_selected, program.approved]
#     timeout_seconds: 5
`
