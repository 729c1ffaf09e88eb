package appconf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvest.onebusaway.org/internal/models"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		input    string
		expected Environment
		wantErr  bool
	}{
		{"", Development, false},
		{"development", Development, false},
		{"Test", Test, false},
		{"production", Production, false},
		{"prod", Production, false},
		{"staging", Development, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			env, err := ParseEnvironment(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, env)
		})
	}
}

func TestEnvironmentString(t *testing.T) {
	assert.Equal(t, "development", Development.String())
	assert.Equal(t, "test", Test.String())
	assert.Equal(t, "production", Production.String())
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 8, cfg.WindowDays)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "Europe/Warsaw", cfg.Timezone)
	assert.Equal(t, "pl", cfg.Lang)
	assert.Equal(t, "vehicle_routes_settings.txt", cfg.SettingsPath)
	assert.Equal(t, "https://kml.kiedyprzyjedzie.pl/api/customers", cfg.DirectoryURL)
	assert.False(t, cfg.HasExplicitProvider())
}

func TestConfigFileLoading(t *testing.T) {
	t.Run("loads valid JSON config file", func(t *testing.T) {
		fileCfg, err := LoadFromFile("testdata/config_valid.json")
		require.NoError(t, err)
		require.NotNil(t, fileCfg)

		cfg := fileCfg.ToAppConfig()
		assert.Equal(t, Development, cfg.Env)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, "city bus", cfg.ProviderQuery)
		assert.Equal(t, "out", cfg.OutputDir)
		assert.Equal(t, 5, cfg.Concurrency, "unset values keep defaults")
		assert.False(t, cfg.HasExplicitProvider())
	})

	t.Run("loads full YAML config file", func(t *testing.T) {
		fileCfg, err := LoadFromFile("testdata/config_full.yaml")
		require.NoError(t, err)

		cfg := fileCfg.ToAppConfig()
		assert.Equal(t, Production, cfg.Env)
		assert.Equal(t, models.Provider{Name: "City Bus", Prefix: "citybus", Domain: "example.pl"}, cfg.Provider)
		assert.True(t, cfg.HasExplicitProvider())
		assert.Equal(t, "/var/lib/harvest", cfg.OutputDir)
		assert.Equal(t, "/etc/harvest/vehicle_routes_settings.txt", cfg.SettingsPath)
		assert.Equal(t, "/var/lib/harvest/citybus.db", cfg.SQLitePath)
		assert.Equal(t, "/var/lib/node_exporter/harvest.prom", cfg.MetricsFile)
		assert.True(t, cfg.Verify)
		assert.Equal(t, "/var/log/harvest.log", cfg.LogFile)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, 3, cfg.Concurrency)
		assert.Equal(t, 10, cfg.WindowDays)
		assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 20.0, cfg.RequestsPerSecond)
		assert.Equal(t, "Europe/Berlin", cfg.Timezone)
		assert.Equal(t, "de", cfg.Lang)
	})

	t.Run("fails on invalid config file", func(t *testing.T) {
		fileCfg, err := LoadFromFile("testdata/config_invalid.json")
		assert.Error(t, err)
		assert.Nil(t, fileCfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("fails on malformed JSON", func(t *testing.T) {
		fileCfg, err := LoadFromFile("testdata/config_malformed.json")
		assert.Error(t, err)
		assert.Nil(t, fileCfg)
		assert.Contains(t, err.Error(), "failed to parse JSON config")
	})

	t.Run("fails on unknown YAML field", func(t *testing.T) {
		fileCfg, err := LoadFromFile("testdata/config_unknown_field.yaml")
		assert.Error(t, err)
		assert.Nil(t, fileCfg)
		assert.Contains(t, err.Error(), "failed to parse YAML config")
	})

	t.Run("fails on nonexistent file", func(t *testing.T) {
		fileCfg, err := LoadFromFile("testdata/nonexistent.json")
		assert.Error(t, err)
		assert.Nil(t, fileCfg)
		assert.Contains(t, err.Error(), "failed to stat config file")
	})
}

func TestToAppConfigProviderNameDefaultsToPrefix(t *testing.T) {
	fc := &FileConfig{Provider: ProviderConfig{Prefix: "citybus", Domain: "example.pl"}}
	assert.Equal(t, "citybus", fc.ToAppConfig().Provider.Name)
}

func TestFetchURL(t *testing.T) {
	cfg := Default()
	cfg.Provider = models.Provider{Prefix: "citybus", Domain: "example.pl"}
	assert.Equal(t, "https://citybus.example.pl", cfg.FetchURL())

	cfg.APIBaseURL = "http://127.0.0.1:8080"
	assert.Equal(t, "http://127.0.0.1:8080", cfg.FetchURL())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"too much concurrency", func(c *Config) { c.Concurrency = 65 }},
		{"zero days", func(c *Config) { c.WindowDays = 0 }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"negative rps", func(c *Config) { c.RequestsPerSecond = -1 }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }},
		{"bad api url", func(c *Config) { c.APIBaseURL = "not a url" }},
		{"prefix with path", func(c *Config) {
			c.Provider = models.Provider{Prefix: "../x", Domain: "example.pl"}
		}},
		{"prefix without domain", func(c *Config) { c.Provider = models.Provider{Prefix: "citybus"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}
