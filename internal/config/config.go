package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// FileName is the default config file name inside a project directory.
const FileName = "trustrecon.yaml"

// Config represents the top-level trustrecon.yaml configuration.
type Config struct {
	Organization OrganizationConfig `yaml:"organization"`
	Database     DatabaseConfig     `yaml:"database"`
	Timezone     string             `yaml:"timezone"`
	Matching     MatchingConfig     `yaml:"matching"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Anomaly      AnomalyConfig      `yaml:"anomaly"`
	Statements   StatementsConfig   `yaml:"statements"`
	Log          LogConfig          `yaml:"log"`
}

// OrganizationConfig identifies the tenant the CLI acts for.
type OrganizationConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Actor string `yaml:"actor"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"` // relative paths resolve against the config file's directory
}

// MatchingConfig tunes statement-to-ledger matching.
type MatchingConfig struct {
	DateToleranceDays int `yaml:"date_tolerance_days"`
}

// SchedulerConfig controls automated runs and alerting.
type SchedulerConfig struct {
	LeaseTTL             time.Duration   `yaml:"lease_ttl"`
	RunTimeout           time.Duration   `yaml:"run_timeout"` // must be shorter than LeaseTTL
	FailureThreshold     int             `yaml:"failure_threshold"`
	MaterialityThreshold decimal.Decimal `yaml:"materiality_threshold"`
}

// AnomalyConfig holds detection thresholds and severity weights.
type AnomalyConfig struct {
	LargeAmountMultiplier float64            `yaml:"large_amount_multiplier"`
	TrailingDays          int                `yaml:"trailing_days"`
	MinHistory            int                `yaml:"min_history"`
	DuplicateWindowDays   int                `yaml:"duplicate_window_days"`
	StructuringWindowDays int                `yaml:"structuring_window_days"`
	StructuringMinCount   int                `yaml:"structuring_min_count"`
	BusinessHourStart     int                `yaml:"business_hour_start"`
	BusinessHourEnd       int                `yaml:"business_hour_end"`
	Weights               map[string]float64 `yaml:"weights"`
}

// StatementsConfig selects where scheduled runs find the latest statement.
type StatementsConfig struct {
	Source string `yaml:"source"` // "store", "dir" or "gcs"
	Dir    string `yaml:"dir,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Load reads a trustrecon.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("", "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that the rest of the system relies on. A run must finish before its
// lease expires, otherwise a second run could take the lease over mid-reconciliation.
func (c *Config) Validate() error {
	sc := c.Scheduler
	if sc.LeaseTTL <= 0 {
		return &model.ValidationError{Field: "scheduler.lease_ttl", Reason: "must be positive"}
	}
	if sc.RunTimeout <= 0 || sc.RunTimeout >= sc.LeaseTTL {
		return &model.ValidationError{Field: "scheduler.run_timeout", Reason: fmt.Sprintf("must be positive and shorter than lease_ttl (%s)", sc.LeaseTTL)}
	}
	if sc.FailureThreshold < 1 {
		return &model.ValidationError{Field: "scheduler.failure_threshold", Reason: "must be at least 1"}
	}
	if sc.MaterialityThreshold.IsNegative() {
		return &model.ValidationError{Field: "scheduler.materiality_threshold", Reason: "must not be negative"}
	}
	if c.Matching.DateToleranceDays < 0 {
		return &model.ValidationError{Field: "matching.date_tolerance_days", Reason: "must not be negative"}
	}
	return nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Location resolves the configured time zone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Default returns a Config with sensible defaults for a new project.
// Values absent from a loaded file keep these defaults.
func Default(orgID, orgName string) *Config {
	return &Config{
		Organization: OrganizationConfig{
			ID:    orgID,
			Name:  orgName,
			Actor: "trustrecon",
		},
		Database: DatabaseConfig{
			Path: "trustrecon.db",
		},
		Timezone: "UTC",
		Matching: MatchingConfig{
			DateToleranceDays: 3,
		},
		Scheduler: SchedulerConfig{
			LeaseTTL:             15 * time.Minute,
			RunTimeout:           10 * time.Minute,
			FailureThreshold:     3,
			MaterialityThreshold: decimal.NewFromInt(1),
		},
		Anomaly: AnomalyConfig{
			LargeAmountMultiplier: 3,
			TrailingDays:          90,
			MinHistory:            3,
			DuplicateWindowDays:   3,
			StructuringWindowDays: 7,
			StructuringMinCount:   3,
			BusinessHourStart:     8,
			BusinessHourEnd:       18,
			Weights: map[string]float64{
				"negative_balance": 1.0,
				"structuring":      0.8,
				"large_amount":     0.7,
				"duplicate":        0.6,
				"off_hours":        0.4,
			},
		},
		Statements: StatementsConfig{
			Source: "store",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}
