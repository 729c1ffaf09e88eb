package gtfsdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"harvest.onebusaway.org/internal/appconf"
	"harvest.onebusaway.org/internal/feed"
	"harvest.onebusaway.org/internal/logging"
)

//go:embed schema.sql
var ddl string

// tableColumns lists the columns each feed table may write. Table and column
// names are interpolated into SQL, so nothing outside this list is accepted.
var tableColumns = map[string][]string{
	feed.TableAgency:        {"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang"},
	feed.TableStops:         {"stop_id", "stop_code", "stop_name", "stop_lon", "stop_lat"},
	feed.TableRoutes:        {"route_id", "agency_id", "route_short_name", "route_type", "route_color"},
	feed.TableTrips:         {"route_id", "service_id", "trip_id", "trip_headsign"},
	feed.TableStopTimes:     {"trip_id", "arrival_time", "departure_time", "stop_id", "stop_sequence"},
	feed.TableCalendarDates: {"service_id", "date", "exception_type"},
}

// feedTables is cleared in reverse order.
var feedTables = feed.TableNames

// createDB creates a new SQLite database with tables for the feed
func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	// Pool settings go first so that :memory: keeps a single database.
	configureConnectionPool(db, config)

	ctx := context.Background()
	if err := configureSQLitePerformance(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	if err := performDatabaseMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	statements := strings.Split(ddl, "-- migrate")
	for _, stmt := range statements {
		trimmedStmt := strings.TrimSpace(stmt)
		if trimmedStmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmedStmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmedStmt, err)
		}
	}
	return nil
}

func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name        string
		description string
	}{
		// Increase cache size to 64MB (negative value means KB)
		{"PRAGMA cache_size=-64000", "Set cache size to 64MB"},
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
		{"PRAGMA synchronous=NORMAL", "Relax fsync during bulk import"},
	}

	logger := slog.Default().With(slog.String("component", "sqlite_performance"))

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma.name); err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	logging.LogOperation(logger, "sqlite_performance_settings_applied",
		slog.Int("pragma_count", len(pragmas)))
	return nil
}

// configureConnectionPool limits :memory: databases to one connection, since
// every connection to :memory: opens a separate database. A harvest run has a
// single writer, so file databases get a small pool.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// ImportFeed replaces the stored feed with tables. Each table is written in
// its own transaction; tables without rows are left empty.
func (c *Client) ImportFeed(ctx context.Context, tables []*feed.Table) error {
	logger := slog.Default().With(slog.String("component", "feed_importer"))

	startTime := time.Now()
	defer func() {
		c.importRuntime = time.Since(startTime)
		logging.LogOperation(logger, "feed_import_completed",
			slog.Duration("duration", c.importRuntime),
			slog.String("db_path", c.config.DBPath))
	}()

	for _, t := range tables {
		if _, ok := tableColumns[t.Name]; !ok {
			return fmt.Errorf("unknown feed table %q", t.Name)
		}
	}

	if err := c.clearAllFeedData(ctx); err != nil {
		return err
	}

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.bulkInsertTable(ctx, t); err != nil {
			return fmt.Errorf("failed to import %s: %w", t.Name, err)
		}
	}
	return nil
}

// RecordImport stores which run and provider produced the current contents.
func (c *Client) RecordImport(ctx context.Context, runID, providerPrefix string, at time.Time) error {
	_, err := c.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO import_metadata (id, run_id, provider_prefix, imported_at) VALUES (1, ?, ?, ?)`,
		runID, providerPrefix, at.Unix())
	return err
}

func (c *Client) clearAllFeedData(ctx context.Context) error {
	logger := slog.Default().With(slog.String("component", "feed_importer"))

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "clear_feed_data")

	for i := len(feedTables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+feedTables[i]); err != nil {
			return fmt.Errorf("failed to clear %s: %w", feedTables[i], err)
		}
	}
	return tx.Commit()
}

func (c *Client) bulkInsertTable(ctx context.Context, t *feed.Table) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	allowed := tableColumns[t.Name]
	for _, col := range t.Columns {
		if !contains(allowed, col) {
			return fmt.Errorf("unknown column %q in table %s", col, t.Name)
		}
	}

	logging.LogOperation(logger, "inserting_"+t.Name,
		slog.Int("count", t.Len()))

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_"+t.Name)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(t.Columns)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(t.Columns, ", "), placeholders)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(stmt, logger, "insert_statement")

	args := make([]any, len(t.Columns))
	for _, row := range t.Rows {
		for i := range args {
			args[i] = row[i]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, t.Name+"_inserted",
		slog.Int("count", t.Len()))
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
