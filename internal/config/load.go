package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides.
const (
	EnvConfig      = "DATAHUB_CONFIG"
	EnvProviderURL = "DATAHUB_PROVIDER_URL"
	EnvTokenURL    = "DATAHUB_TOKEN_URL"
	EnvStorePath   = "DATAHUB_STORE_PATH"
)

// Load reads and parses a TOML config file, applies environment overrides,
// validates, and returns the resulting Config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// defaults plus environment overrides. Validation still applies, so a
// missing file without DATAHUB_PROVIDER_URL set is an error.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)

		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config: validation failed: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// ResolvePath picks the config file path: CLI flag > env > default.
func ResolvePath(cliPath string) string {
	if cliPath != "" {
		return cliPath
	}

	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}

	return "datahub.toml"
}

// applyEnvOverrides replaces config values with environment variables
// where set. Environment wins over the file, CLI flags win over both.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvProviderURL); v != "" {
		cfg.Provider.BaseURL = v
	}

	if v := os.Getenv(EnvTokenURL); v != "" {
		cfg.Provider.TokenURL = v
	}

	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
}

// Validate checks all configuration values and returns all errors found,
// joined, so the user can fix a bad file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}

	if cfg.Provider.TokenURL == "" {
		errs = append(errs, errors.New("provider.token_url is required"))
	}

	if cfg.Provider.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("provider.page_size must be positive, got %d", cfg.Provider.PageSize))
	}

	if cfg.Provider.ShallowTimeout <= 0 {
		errs = append(errs, errors.New("provider.shallow_timeout must be positive"))
	}

	if cfg.Provider.ReportTimeout < cfg.Provider.ShallowTimeout {
		errs = append(errs, errors.New("provider.report_timeout must be at least provider.shallow_timeout"))
	}

	if cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	if cfg.CoverageMonths <= 0 {
		errs = append(errs, fmt.Errorf("coverage_months must be positive, got %d", cfg.CoverageMonths))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", cfg.LogLevel))
	}

	for _, sc := range cfg.SpotChecks {
		if sc.Initials == "" || sc.UserID == "" {
			errs = append(errs, fmt.Errorf("spot_checks entries need both initials and user_id (got %+v)", sc))
		}
	}

	return errors.Join(errs...)
}
