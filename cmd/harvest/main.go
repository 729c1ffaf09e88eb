package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"harvest.onebusaway.org/internal/appconf"
	"harvest.onebusaway.org/internal/harvest"
	"harvest.onebusaway.org/internal/logging"
)

const (
	exitOK     = 0
	exitError  = 1
	exitNoData = 2
)

type cliOptions struct {
	configPath    string
	listProviders bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "failed to load .env: %v\n", err)
		return exitError
	}

	cfg, opts, err := parseConfig(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	coreApp, err := BuildApplication(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	defer func() { _ = coreApp.Close() }()
	slog.SetDefault(coreApp.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.listProviders {
		err = ListProviders(ctx, coreApp, stdout)
	} else {
		_, err = Run(ctx, coreApp)
	}
	return exitCode(coreApp.Logger, err)
}

// exitCode maps a run error to the process status. Runs that fetched nothing
// usable exit with 2 so schedulers can tell them apart from broken setups.
func exitCode(logger *slog.Logger, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, harvest.ErrNoData):
		logging.LogError(logger, "Harvest aborted, no archive written", err)
		return exitNoData
	default:
		logging.LogError(logger, "Harvest failed", err)
		return exitError
	}
}

// loadDotEnv loads path into the process environment when it exists.
// Variables already set are not overwritten.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// parseConfig resolves the configuration: defaults, then the config file,
// then every flag given on the command line.
func parseConfig(args []string, stderr io.Writer) (appconf.Config, cliOptions, error) {
	defaults := appconf.Default()

	flags := pflag.NewFlagSet("harvest", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	var opts cliOptions
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("HARVEST_CONFIG"), "Path to a JSON or YAML config file")
	flags.BoolVar(&opts.listProviders, "list-providers", false, "Print the provider directory and exit")

	env := flags.String("env", defaults.Env.String(), "Environment (development, test, production)")
	verbose := flags.BoolP("verbose", "v", false, "Enable debug logging")

	query := flags.StringP("provider", "p", os.Getenv("HARVEST_PROVIDER"), "Provider name or prefix to look up in the directory")
	prefix := flags.String("prefix", "", "Provider prefix; with --domain skips the directory lookup")
	domain := flags.String("domain", "", "Provider domain")
	name := flags.String("name", "", "Provider display name (defaults to the prefix)")
	directoryURL := flags.String("directory-url", defaults.DirectoryURL, "Provider directory URL")
	apiURL := flags.String("api-url", "", "Fetch from this URL instead of https://{prefix}.{domain}")

	outputDir := flags.StringP("output-dir", "o", defaults.OutputDir, "Directory the archive is written to")
	settings := flags.String("settings", defaults.SettingsPath, "Route type and color override file")
	sqlitePath := flags.String("sqlite", "", "Also store the feed in this SQLite database")
	metricsFile := flags.String("metrics-file", "", "Write Prometheus metrics to this file at the end of the run")
	verify := flags.Bool("verify", false, "Parse the written archive and log its contents")

	logFile := flags.String("log-file", "", "Write logs to a rotated file instead of stderr")
	logFormat := flags.String("log-format", defaults.LogFormat, "Log format (text or json)")

	concurrency := flags.Int("concurrency", defaults.Concurrency, "Maximum in-flight requests per stage")
	days := flags.Int("days", defaults.WindowDays, "Number of days to scan, starting today")
	timeout := flags.Duration("timeout", defaults.RequestTimeout, "Per-request timeout")
	rps := flags.Float64("rps", 0, "Maximum requests per second (0 disables pacing)")
	timezone := flags.String("timezone", defaults.Timezone, "Agency timezone")
	lang := flags.String("lang", defaults.Lang, "Agency language")

	if err := flags.Parse(args); err != nil {
		return appconf.Config{}, opts, err
	}

	cfg := defaults
	if opts.configPath != "" {
		fileCfg, err := appconf.LoadFromFile(opts.configPath)
		if err != nil {
			return appconf.Config{}, opts, err
		}
		cfg = fileCfg.ToAppConfig()
	}

	if flags.Changed("env") {
		parsed, err := appconf.ParseEnvironment(*env)
		if err != nil {
			return appconf.Config{}, opts, err
		}
		cfg.Env = parsed
	}
	override(flags, "verbose", &cfg.Verbose, *verbose)

	if *query != "" {
		cfg.ProviderQuery = *query
	}
	override(flags, "prefix", &cfg.Provider.Prefix, *prefix)
	override(flags, "domain", &cfg.Provider.Domain, *domain)
	override(flags, "name", &cfg.Provider.Name, *name)
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = cfg.Provider.Prefix
	}
	override(flags, "directory-url", &cfg.DirectoryURL, *directoryURL)
	override(flags, "api-url", &cfg.APIBaseURL, *apiURL)

	override(flags, "output-dir", &cfg.OutputDir, *outputDir)
	override(flags, "settings", &cfg.SettingsPath, *settings)
	override(flags, "sqlite", &cfg.SQLitePath, *sqlitePath)
	override(flags, "metrics-file", &cfg.MetricsFile, *metricsFile)
	override(flags, "verify", &cfg.Verify, *verify)

	override(flags, "log-file", &cfg.LogFile, *logFile)
	override(flags, "log-format", &cfg.LogFormat, *logFormat)

	override(flags, "concurrency", &cfg.Concurrency, *concurrency)
	override(flags, "days", &cfg.WindowDays, *days)
	override(flags, "timeout", &cfg.RequestTimeout, *timeout)
	override(flags, "rps", &cfg.RequestsPerSecond, *rps)
	override(flags, "timezone", &cfg.Timezone, *timezone)
	override(flags, "lang", &cfg.Lang, *lang)

	return cfg, opts, nil
}

func override[T any](flags *pflag.FlagSet, name string, dst *T, v T) {
	if flags.Changed(name) {
		*dst = v
	}
}
