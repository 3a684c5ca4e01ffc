// Package config loads the screener configuration from a YAML file with
// environment overrides. A .env file is honoured when present so local runs
// and deployments share the same override surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
	DataDir   string `yaml:"data_dir"`

	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Screening  ScreeningConfig  `yaml:"screening"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Budget     BudgetConfig     `yaml:"budget"`
	Holiday    HolidayConfig    `yaml:"holiday"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Polling    PollingConfig    `yaml:"polling"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// SchedulerConfig holds the trigger table inputs and pause gate shape.
type SchedulerConfig struct {
	Timezone            string `yaml:"timezone"`
	MorningCron         string `yaml:"morning_cron"`
	CloseCron           string `yaml:"close_cron"`
	DeepDiveMorningCron string `yaml:"deepdive_morning_cron"`
	DeepDiveCloseCron   string `yaml:"deepdive_close_cron"`
	PauseLeadMinutes    int    `yaml:"pause_lead_minutes"`
	ExpectedRunMinutes  int    `yaml:"expected_run_minutes"`
	CalendarFile        string `yaml:"calendar_file"`
}

// ScreeningConfig points at the screening backend.
type ScreeningConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RecoveryConfig controls the catch-up coordinator.
type RecoveryConfig struct {
	Enabled              bool `yaml:"enabled"`
	LookbackBusinessDays int  `yaml:"lookback_business_days"`
	MaxDaysPerRun        int  `yaml:"max_days_per_run"`
	TickMinutes          int  `yaml:"tick_minutes"`
}

// BudgetConfig holds the deep-dive budget caps.
type BudgetConfig struct {
	DailyCap   int `yaml:"daily_cap"`
	MorningCap int `yaml:"morning_cap"`
	CloseCap   int `yaml:"close_cap"`
}

// HolidayConfig controls non-business-day behaviour per family.
type HolidayConfig struct {
	MorningRun                     bool `yaml:"morning_run"`
	DeepDiveRun                    bool `yaml:"deepdive_run"`
	DeepDiveUsePreviousBusinessDay bool `yaml:"deepdive_use_previous_business_day"`
}

// JobsConfig controls run guarding.
type JobsConfig struct {
	StaleRunningAfterMinutes int `yaml:"stale_running_after_minutes"`
}

// PollingConfig controls the wait for close data before the close run.
type PollingConfig struct {
	Enabled        bool `yaml:"enabled"`
	IntervalSec    int  `yaml:"interval_sec"`
	MaxWaitMinutes int  `yaml:"max_wait_minutes"`
}

// EnrichmentConfig points at the research backend and bounds its call rate.
type EnrichmentConfig struct {
	BaseURL       string `yaml:"base_url"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

// NotifyConfig configures event delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "./data",
		Scheduler: SchedulerConfig{
			Timezone:            "Asia/Tokyo",
			MorningCron:         "0 8 * * 1-5",
			CloseCron:           "30 15 * * 1-5",
			DeepDiveMorningCron: "45 8 * * 1-5",
			DeepDiveCloseCron:   "15 16 * * 1-5",
			PauseLeadMinutes:    10,
			ExpectedRunMinutes:  30,
		},
		Screening: ScreeningConfig{
			BaseURL:    "http://127.0.0.1:8090",
			TimeoutSec: 300,
		},
		Recovery: RecoveryConfig{
			Enabled:              true,
			LookbackBusinessDays: 7,
			MaxDaysPerRun:        3,
			TickMinutes:          30,
		},
		Budget: BudgetConfig{
			DailyCap:   10,
			MorningCap: 4,
			CloseCap:   6,
		},
		Holiday: HolidayConfig{},
		Jobs: JobsConfig{
			StaleRunningAfterMinutes: 120,
		},
		Polling: PollingConfig{
			Enabled:        true,
			IntervalSec:    60,
			MaxWaitMinutes: 45,
		},
		Enrichment: EnrichmentConfig{
			BaseURL:       "http://127.0.0.1:8091",
			TimeoutSec:    180,
			RatePerMinute: 6,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// it exists), then environment overrides. A missing file is not an error; an
// unreadable or invalid one is.
func Load(path string) (*Config, error) {
	// Side effect only: populate the process environment for the override pass.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.LogLevel, "SCREENER_LOG_LEVEL")
	setString(&cfg.DataDir, "SCREENER_DATA_DIR")
	setString(&cfg.Scheduler.Timezone, "SCREENER_TIMEZONE")
	setString(&cfg.Notify.WebhookURL, "SCREENER_WEBHOOK_URL")
	setString(&cfg.Screening.BaseURL, "SCREENER_SCREENING_URL")
	setString(&cfg.Enrichment.BaseURL, "SCREENER_ENRICHMENT_URL")
	setInt(&cfg.Budget.DailyCap, "SCREENER_DAILY_CAP")
	setInt(&cfg.Budget.MorningCap, "SCREENER_MORNING_CAP")
	setInt(&cfg.Budget.CloseCap, "SCREENER_CLOSE_CAP")
	setBool(&cfg.Recovery.Enabled, "SCREENER_RECOVERY_ENABLED")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate rejects configurations that would misbehave at runtime rather
// than at startup.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Scheduler.Timezone, err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	crons := map[string]string{
		"morning_cron":          c.Scheduler.MorningCron,
		"close_cron":            c.Scheduler.CloseCron,
		"deepdive_morning_cron": c.Scheduler.DeepDiveMorningCron,
		"deepdive_close_cron":   c.Scheduler.DeepDiveCloseCron,
	}
	for name, spec := range crons {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	if c.Scheduler.PauseLeadMinutes < 0 || c.Scheduler.ExpectedRunMinutes < 0 {
		return fmt.Errorf("pause gate durations must not be negative")
	}

	if c.Budget.DailyCap < 1 {
		return fmt.Errorf("daily cap must be at least 1, got %d", c.Budget.DailyCap)
	}
	if c.Budget.MorningCap < 0 || c.Budget.CloseCap < 0 {
		return fmt.Errorf("session caps must not be negative")
	}
	if c.Budget.MorningCap+c.Budget.CloseCap > c.Budget.DailyCap {
		return fmt.Errorf("session caps sum to %d which exceeds daily cap %d",
			c.Budget.MorningCap+c.Budget.CloseCap, c.Budget.DailyCap)
	}

	if c.Recovery.Enabled {
		if c.Recovery.LookbackBusinessDays < 1 {
			return fmt.Errorf("recovery lookback must be at least 1 business day")
		}
		if c.Recovery.MaxDaysPerRun < 1 {
			return fmt.Errorf("recovery max days per run must be at least 1")
		}
		if c.Recovery.TickMinutes < 1 {
			return fmt.Errorf("recovery tick interval must be at least 1 minute")
		}
	}

	if c.Polling.Enabled {
		if c.Polling.IntervalSec < 1 {
			return fmt.Errorf("polling interval must be at least 1 second")
		}
		if c.Polling.MaxWaitMinutes < 1 {
			return fmt.Errorf("polling max wait must be at least 1 minute")
		}
	}

	if c.Enrichment.RatePerMinute < 1 {
		return fmt.Errorf("enrichment rate must be at least 1 call per minute")
	}
	if c.Screening.BaseURL == "" {
		return fmt.Errorf("screening base URL must be set")
	}
	if c.Screening.TimeoutSec < 1 || c.Enrichment.TimeoutSec < 1 {
		return fmt.Errorf("backend timeouts must be at least 1 second")
	}
	if c.Enrichment.BaseURL == "" {
		return fmt.Errorf("enrichment base URL must be set")
	}

	if c.Jobs.StaleRunningAfterMinutes < 1 {
		return fmt.Errorf("stale running threshold must be at least 1 minute")
	}
	return nil
}

// Location resolves the configured timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
