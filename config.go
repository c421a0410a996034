package leadveil

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all leadveil configuration.
type Config struct {
	// SpreadsheetID is the remote spreadsheet to operate on. Required.
	SpreadsheetID string `yaml:"spreadsheet_id"`
	// LeadSheets are the lead tab names, in lookup-priority order. Required.
	LeadSheets []string `yaml:"lead_sheets"`
	// LockSheet is the tab persisting lock records.
	LockSheet string `yaml:"lock_sheet"`
	// SettingsSheet is the tab persisting per-tab cooldown minutes.
	SettingsSheet string `yaml:"settings_sheet"`
	// CredentialsFile points at a service-account JSON key. Empty means
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// PhoneLabel is the exact header text of the phone column in lead tabs.
	PhoneLabel string `yaml:"phone_label"`
	// DefaultCountry is the country code prepended to bare 10-digit numbers.
	DefaultCountry string `yaml:"default_country"`

	// HoldMinutes is the process-default cooldown, overridable per tab.
	HoldMinutes int `yaml:"hold_minutes"`
	// LockAfterCalls is how many counted events place a lock.
	LockAfterCalls int `yaml:"lock_after_calls"`
	// CountOutbound / CountInbound gate which call directions are counted.
	CountOutbound bool `yaml:"count_outbound"`
	CountInbound  bool `yaml:"count_inbound"`

	FlushInterval   time.Duration `yaml:"flush_interval"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// AdminKey enables the admin API when non-empty (x-admin-key header).
	AdminKey string `yaml:"admin_key"`
	// WebhookSecret, when non-empty, is required in x-webhook-secret.
	WebhookSecret string `yaml:"webhook_secret"`

	// JournalPath is the local SQLite event journal. Empty disables it.
	JournalPath string `yaml:"journal_path"`
	// JournalRetentionDays bounds journal growth. Zero keeps everything.
	JournalRetentionDays int `yaml:"journal_retention_days"`

	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with every optional field at its default.
func DefaultConfig() *Config {
	return &Config{
		LockSheet:       "Locks",
		SettingsSheet:   "Settings",
		PhoneLabel:      "Phone Number (US)",
		DefaultCountry:  "1",
		HoldMinutes:     60,
		LockAfterCalls:  2,
		CountOutbound:   true,
		CountInbound:    false,
		FlushInterval:   3 * time.Second,
		SweepInterval:   15 * time.Second,
		RefreshInterval: 30 * time.Second,
		Addr:            ":8086",
	}
}

// LoadConfigFile reads a YAML configuration file over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("leadveil: parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LockSheet == "" {
		c.LockSheet = "Locks"
	}
	if c.SettingsSheet == "" {
		c.SettingsSheet = "Settings"
	}
	if c.PhoneLabel == "" {
		c.PhoneLabel = "Phone Number (US)"
	}
	if c.DefaultCountry == "" {
		c.DefaultCountry = "1"
	}
	if c.HoldMinutes <= 0 {
		c.HoldMinutes = 60
	}
	if c.LockAfterCalls <= 0 {
		c.LockAfterCalls = 2
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 3 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.Addr == "" {
		c.Addr = ":8086"
	}
}

// Validate checks the required fields. Lead sheet names are trimmed and
// empties removed; a comma-separated single entry is split.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SpreadsheetID) == "" {
		return fmt.Errorf("%w: spreadsheet_id is required", ErrNotConfigured)
	}
	var sheets []string
	for _, s := range c.LeadSheets {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				sheets = append(sheets, part)
			}
		}
	}
	c.LeadSheets = sheets
	if len(c.LeadSheets) == 0 {
		return fmt.Errorf("%w: at least one lead sheet is required", ErrNotConfigured)
	}
	if c.HoldMinutes < 1 || c.HoldMinutes > 1440 {
		return fmt.Errorf("%w: hold_minutes must be in [1, 1440]", ErrInvalidInput)
	}
	return nil
}
