// Package config loads and validates the Data Hub configuration file.
// Configuration is TOML with environment variable overrides; precedence is
// defaults -> config file -> environment, with CLI flags applied by the
// caller on top.
package config

import (
	"time"
)

// Dataset names recognized by the engine. These mirror the record sets in
// the local store and the provider's activity types.
const (
	DatasetCollectedTime = "collectedTime"
	DatasetWIP           = "wip"
)

// Datasets lists all valid dataset names.
func Datasets() []string {
	return []string{DatasetCollectedTime, DatasetWIP}
}

// ValidDataset reports whether name is a recognized dataset.
func ValidDataset(name string) bool {
	return name == DatasetCollectedTime || name == DatasetWIP
}

// SpotCheckEntity names one team member for per-entity drift checks.
type SpotCheckEntity struct {
	Initials string `toml:"initials"`
	UserID   string `toml:"user_id"`
}

// Config is the root configuration structure.
type Config struct {
	// Provider holds the practice-management API endpoints.
	Provider ProviderConfig `toml:"provider"`

	// Store holds local SQLite settings.
	Store StoreConfig `toml:"store"`

	// Server holds HTTP API settings for `datahub serve`.
	Server ServerConfig `toml:"server"`

	// Principals are the operator initials allowed to hold provider
	// credentials. Credentials themselves live in the secret store.
	Principals []string `toml:"principals"`

	// SpotChecks are the entities compared individually by drift detection.
	SpotChecks []SpotCheckEntity `toml:"spot_checks"`

	// CoverageMonths is how many trailing months the audit covers.
	CoverageMonths int `toml:"coverage_months"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// ProviderConfig holds provider endpoint and timeout settings.
type ProviderConfig struct {
	BaseURL  string `toml:"base_url"`
	TokenURL string `toml:"token_url"`

	// PageSize is the provider list page size.
	PageSize int `toml:"page_size"`

	// ShallowTimeout bounds cheap list/aggregate calls.
	ShallowTimeout time.Duration `toml:"shallow_timeout"`

	// ReportTimeout bounds deep report generation, which the provider
	// documents as taking up to a minute.
	ReportTimeout time.Duration `toml:"report_timeout"`

	// DeepReportInterval is the minimum spacing between deep report
	// requests (rate limit, deep reports are provider-cost-heavy).
	DeepReportInterval time.Duration `toml:"deep_report_interval"`
}

// StoreConfig holds local store settings.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is valid for tests.
	Path string `toml:"path"`
}

// ServerConfig holds the HTTP API listen settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default values.
const (
	defaultPageSize           = 200
	defaultShallowTimeout     = 8 * time.Second
	defaultReportTimeout      = 60 * time.Second
	defaultDeepReportInterval = 30 * time.Second
	defaultCoverageMonths     = 12
	defaultServerPort         = 8484
)

// DefaultConfig returns a Config populated with defaults. The provider
// URLs have no defaults; they must come from the config file or env.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			PageSize:           defaultPageSize,
			ShallowTimeout:     defaultShallowTimeout,
			ReportTimeout:      defaultReportTimeout,
			DeepReportInterval: defaultDeepReportInterval,
		},
		Store: StoreConfig{
			Path: "datahub.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: defaultServerPort,
		},
		CoverageMonths: defaultCoverageMonths,
		LogLevel:       "info",
	}
}
