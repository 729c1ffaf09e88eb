package appconf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"harvest.onebusaway.org/internal/models"
)

// ProviderConfig names the provider explicitly.
type ProviderConfig struct {
	Name   string `json:"name" yaml:"name"`
	Prefix string `json:"prefix" yaml:"prefix" validate:"omitempty,max=63,hostname_rfc1123"`
	Domain string `json:"domain" yaml:"domain" validate:"required_with=Prefix,omitempty,fqdn"`
}

// FileConfig is the on-disk configuration. Zero values keep the defaults.
type FileConfig struct {
	Env     string `json:"env" yaml:"env" validate:"omitempty,oneof=development test production"`
	Verbose bool   `json:"verbose" yaml:"verbose"`

	Provider      ProviderConfig `json:"provider" yaml:"provider"`
	ProviderQuery string         `json:"provider-query" yaml:"provider-query"`
	DirectoryURL  string         `json:"directory-url" yaml:"directory-url" validate:"omitempty,url"`
	APIBaseURL    string         `json:"api-url" yaml:"api-url" validate:"omitempty,url"`

	OutputDir   string `json:"output-dir" yaml:"output-dir"`
	Settings    string `json:"settings" yaml:"settings"`
	SQLite      string `json:"sqlite" yaml:"sqlite"`
	MetricsFile string `json:"metrics-file" yaml:"metrics-file"`
	Verify      bool   `json:"verify" yaml:"verify"`

	LogFile   string `json:"log-file" yaml:"log-file"`
	LogFormat string `json:"log-format" yaml:"log-format" validate:"omitempty,oneof=text json"`

	Concurrency       int     `json:"concurrency" yaml:"concurrency" validate:"gte=0,lte=64"`
	WindowDays        int     `json:"window-days" yaml:"window-days" validate:"gte=0,lte=60"`
	RequestTimeout    int     `json:"request-timeout-seconds" yaml:"request-timeout-seconds" validate:"gte=0"`
	RequestsPerSecond float64 `json:"requests-per-second" yaml:"requests-per-second" validate:"gte=0"`

	Timezone string `json:"timezone" yaml:"timezone" validate:"omitempty,timezone"`
	Lang     string `json:"lang" yaml:"lang" validate:"omitempty,min=2,max=8"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFromFile reads a JSON file, or a YAML file when the extension is .yaml
// or .yml, and validates it.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ToAppConfig overlays the file values on Default.
func (fc *FileConfig) ToAppConfig() Config {
	cfg := Default()

	if env, err := ParseEnvironment(fc.Env); err == nil {
		cfg.Env = env
	}
	cfg.Verbose = fc.Verbose
	cfg.Verify = fc.Verify

	cfg.Provider = models.Provider{
		Name:   fc.Provider.Name,
		Prefix: fc.Provider.Prefix,
		Domain: fc.Provider.Domain,
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = cfg.Provider.Prefix
	}
	cfg.ProviderQuery = fc.ProviderQuery

	setString(&cfg.DirectoryURL, fc.DirectoryURL)
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.OutputDir, fc.OutputDir)
	setString(&cfg.SettingsPath, fc.Settings)
	setString(&cfg.SQLitePath, fc.SQLite)
	setString(&cfg.MetricsFile, fc.MetricsFile)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.Timezone, fc.Timezone)
	setString(&cfg.Lang, fc.Lang)

	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.WindowDays > 0 {
		cfg.WindowDays = fc.WindowDays
	}
	if fc.RequestTimeout > 0 {
		cfg.RequestTimeout = time.Duration(fc.RequestTimeout) * time.Second
	}
	cfg.RequestsPerSecond = fc.RequestsPerSecond

	return cfg
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
