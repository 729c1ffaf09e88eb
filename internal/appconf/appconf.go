// Package appconf holds the runtime configuration of a harvest run and loads
// it from JSON or YAML files.
package appconf

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation must not depend on the host zoneinfo

	"harvest.onebusaway.org/internal/models"
	"harvest.onebusaway.org/internal/provider"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// ParseEnvironment maps "development", "test" or "production" to an
// Environment. The empty string selects Development.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	default:
		return Development, fmt.Errorf("unknown environment %q", s)
	}
}

// Config is the resolved configuration of one run.
type Config struct {
	Env     Environment
	Verbose bool

	// Provider is used as is when Prefix and Domain are set; otherwise
	// ProviderQuery is looked up in the directory at DirectoryURL.
	Provider      models.Provider
	ProviderQuery string
	DirectoryURL  string `validate:"omitempty,url"`
	// APIBaseURL replaces Provider.BaseURL as the fetch root when set.
	APIBaseURL    string `validate:"omitempty,url"`

	OutputDir    string `validate:"required"`
	SettingsPath string
	SQLitePath   string
	MetricsFile  string
	Verify       bool

	LogFile   string
	LogFormat string `validate:"oneof=text json"`

	Concurrency       int           `validate:"gte=1,lte=64"`
	WindowDays        int           `validate:"gte=1,lte=60"`
	RequestTimeout    time.Duration `validate:"gt=0"`
	RequestsPerSecond float64       `validate:"gte=0"`

	Timezone string `validate:"omitempty,timezone"`
	Lang     string `validate:"omitempty,min=2,max=8"`
}

const (
	DefaultDirectoryURL = provider.DefaultDirectoryURL
	DefaultSettingsPath = "vehicle_routes_settings.txt"
	DefaultConcurrency  = 5
	DefaultWindowDays   = 8
	DefaultTimeout      = 30 * time.Second
	DefaultTimezone     = "Europe/Warsaw"
	DefaultLang         = "pl"
	DefaultLogFormat    = "text"
	DefaultOutputDir    = "."
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Env:            Development,
		DirectoryURL:   DefaultDirectoryURL,
		OutputDir:      DefaultOutputDir,
		SettingsPath:   DefaultSettingsPath,
		LogFormat:      DefaultLogFormat,
		Concurrency:    DefaultConcurrency,
		WindowDays:     DefaultWindowDays,
		RequestTimeout: DefaultTimeout,
		Timezone:       DefaultTimezone,
		Lang:           DefaultLang,
	}
}

// Validate applies the same rules to a Config whether it came from a file,
// from flags or from both.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// FetchURL is the root the pipeline fetches from.
func (c Config) FetchURL() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return c.Provider.BaseURL()
}

// HasExplicitProvider reports whether the provider needs no directory lookup.
func (c Config) HasExplicitProvider() bool {
	return c.Provider.Prefix != "" && c.Provider.Domain != ""
}
