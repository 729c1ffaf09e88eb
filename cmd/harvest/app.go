package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"harvest.onebusaway.org/gtfsdb"
	"harvest.onebusaway.org/internal/app"
	"harvest.onebusaway.org/internal/appconf"
	"harvest.onebusaway.org/internal/archive"
	"harvest.onebusaway.org/internal/clock"
	"harvest.onebusaway.org/internal/feed"
	"harvest.onebusaway.org/internal/harvest"
	"harvest.onebusaway.org/internal/logging"
	"harvest.onebusaway.org/internal/metrics"
	"harvest.onebusaway.org/internal/models"
	"harvest.onebusaway.org/internal/provider"
)

const dbStatsInterval = 5 * time.Second

// Result describes a completed run.
type Result struct {
	Provider    models.Provider
	ArchivePath string
	Rows        map[string]int
	Failures    map[harvest.Stage]int
	Issues      []feed.Issue
	Verified    *archive.Summary
}

// BuildApplication validates cfg and creates the logger, clock and metrics of
// a run. Every log line of the run carries the same run_id.
func BuildApplication(cfg appconf.Config) (*app.Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	logger, closer := logging.New(logging.Options{
		Level:      level,
		JSON:       cfg.LogFormat == "json",
		File:       cfg.LogFile,
		MaxBackups: 5,
	})

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))

	coreApp := &app.Application{
		Config:  cfg,
		Logger:  logger,
		Clock:   clock.FromEnvironment(logger),
		Metrics: metrics.NewWithLogger(logger),
		Directory: &provider.Directory{
			URL:    cfg.DirectoryURL,
			Logger: logger,
		},
		RunID: runID,
	}
	coreApp.SetLogCloser(closer)
	return coreApp, nil
}

// ListProviders writes the provider directory as a table.
func ListProviders(ctx context.Context, coreApp *app.Application, w io.Writer) error {
	providers, err := coreApp.Directory.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tDOMAIN\tNAME")
	for _, p := range providers {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Prefix, p.Domain, p.Name)
	}
	return tw.Flush()
}

// resolveProvider returns the configured provider, looking it up in the
// directory when only a query was given.
func resolveProvider(ctx context.Context, coreApp *app.Application) (models.Provider, error) {
	cfg := coreApp.Config
	if cfg.HasExplicitProvider() {
		if err := provider.Validate(cfg.Provider); err != nil {
			return models.Provider{}, err
		}
		return cfg.Provider, nil
	}
	if cfg.ProviderQuery == "" {
		return models.Provider{}, errors.New("no provider configured: use --provider or --prefix with --domain")
	}

	providers, err := coreApp.Directory.List(ctx)
	if err != nil {
		return models.Provider{}, err
	}
	p, err := provider.Find(providers, cfg.ProviderQuery)
	if err != nil {
		return models.Provider{}, err
	}
	logging.LogOperation(coreApp.Logger, "provider_resolved",
		slog.String("query", cfg.ProviderQuery),
		slog.String("prefix", p.Prefix),
		slog.String("domain", p.Domain))
	return p, nil
}

// Run harvests one provider and writes its archive. When the pipeline fetches
// nothing usable the returned error matches harvest.ErrNoData and no archive
// is written.
func Run(ctx context.Context, coreApp *app.Application) (*Result, error) {
	started := time.Now()
	cfg := coreApp.Config
	logger := coreApp.Logger

	p, err := resolveProvider(ctx, coreApp)
	if err != nil {
		return nil, err
	}
	if !filepath.IsLocal(p.ArchiveName()) {
		return nil, fmt.Errorf("archive name %q would leave the output directory", p.ArchiveName())
	}
	coreApp.Config.Provider = p

	client, err := coreApp.NewAPIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	pipeline := &harvest.Pipeline{
		API:         client,
		Clock:       coreApp.Clock,
		Logger:      logger,
		Metrics:     coreApp.Metrics,
		Concurrency: cfg.Concurrency,
		WindowDays:  cfg.WindowDays,
	}
	dataset, err := pipeline.Run(ctx, p)
	if err != nil {
		return nil, err
	}

	overrides := feed.LoadOverrides(cfg.SettingsPath, logger)
	gtfsFeed := feed.Assemble(dataset, overrides, feed.Options{
		Timezone: cfg.Timezone,
		Lang:     cfg.Lang,
		Logger:   logger,
	})

	issues := feed.CheckReferences(gtfsFeed)
	feed.LogIssues(logger, issues)

	rows := gtfsFeed.Counts()
	for table, n := range rows {
		coreApp.Metrics.SetFeedRows(table, n)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	archivePath := filepath.Join(cfg.OutputDir, p.ArchiveName())
	tables := gtfsFeed.Tables()
	if err := archive.WriteWithLogger(archivePath, tables, logger); err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}

	result := &Result{
		Provider:    p,
		ArchivePath: archivePath,
		Rows:        rows,
		Failures:    pipeline.FailureCounts(),
		Issues:      issues,
	}

	if cfg.Verify {
		summary, err := archive.Verify(archivePath)
		if err != nil {
			return nil, fmt.Errorf("archive verification failed: %w", err)
		}
		result.Verified = summary
		logging.LogOperation(logger, "archive_verified",
			slog.Int("agencies", summary.Agencies),
			slog.Int("routes", summary.Routes),
			slog.Int("stops", summary.Stops),
			slog.Int("trips", summary.Trips),
			slog.Int("services", summary.Services),
			slog.Int("stop_times", summary.StopTimes),
			slog.Int("warnings", summary.Warnings))
	}

	if cfg.SQLitePath != "" {
		if err := exportSQLite(ctx, coreApp, p, tables); err != nil {
			return nil, err
		}
	}

	if cfg.MetricsFile != "" {
		if err := coreApp.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			return nil, fmt.Errorf("failed to write metrics file: %w", err)
		}
	}

	logRunSummary(logger, result, time.Since(started))
	return result, nil
}

func exportSQLite(ctx context.Context, coreApp *app.Application, p models.Provider, tables []*feed.Table) error {
	cfg := coreApp.Config
	logger := coreApp.Logger.With(slog.String("component", "sqlite_export"))

	client, err := gtfsdb.NewClient(gtfsdb.NewConfig(cfg.SQLitePath, cfg.Env, cfg.Verbose))
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	defer logging.SafeCloseWithLogging(client, logger, "sqlite_database")

	coreApp.Metrics.StartDBStatsCollector(client.DB, dbStatsInterval)
	defer coreApp.Metrics.Shutdown()

	if err := client.ImportFeed(ctx, tables); err != nil {
		return fmt.Errorf("failed to import feed into SQLite: %w", err)
	}
	if err := client.RecordImport(ctx, coreApp.RunID, p.Prefix, coreApp.Clock.Now()); err != nil {
		return fmt.Errorf("failed to record import: %w", err)
	}

	counts, err := client.TableCounts()
	if err != nil {
		return fmt.Errorf("failed to count SQLite rows: %w", err)
	}
	attrs := []slog.Attr{
		slog.String("db_path", client.GetDBPath()),
		slog.Duration("duration", client.ImportRuntime()),
	}
	for _, table := range feed.TableNames {
		attrs = append(attrs, slog.Int(table, counts[table]))
	}
	logging.LogOperation(logger, "sqlite_export_completed", attrs...)
	return nil
}

func logRunSummary(logger *slog.Logger, result *Result, elapsed time.Duration) {
	rows := make([]any, 0, len(feed.TableNames))
	for _, table := range feed.TableNames {
		rows = append(rows, slog.Int(table, result.Rows[table]))
	}
	failures := make([]any, 0, 3)
	for _, stage := range []harvest.Stage{harvest.StageStops, harvest.StageTimetables, harvest.StageTrips} {
		failures = append(failures, slog.Int(string(stage), result.Failures[stage]))
	}

	logging.LogOperation(logger, "harvest_completed",
		slog.String("provider", result.Provider.Prefix),
		slog.String("archive", result.ArchivePath),
		slog.Group("rows", rows...),
		slog.Group("failures", failures...),
		slog.Int("reference_issues", len(result.Issues)),
		slog.Duration("elapsed", elapsed))
}
