package gtfsdb

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvest.onebusaway.org/internal/appconf"
	"harvest.onebusaway.org/internal/feed"
	"harvest.onebusaway.org/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleTables() []*feed.Table {
	ds := &models.Dataset{
		Provider: models.Provider{Name: "City Bus", Prefix: "citybus", Domain: "example.pl"},
		Stops: []models.Stop{
			{ID: "agency:1", Code: "1", Name: "Main Square", Longitude: 21000000, Latitude: 52000000},
			{ID: "agency:2", Code: "2", Name: "Depot", Longitude: 21010000, Latitude: 52010000},
		},
		Trips: []models.TripDetail{
			{TripID: "T1", LineName: "12", Direction: "Depot", StopTimes: []models.StopTime{
				{PlaceID: "agency:1", DepartureTime: "23:50"},
				{PlaceID: "agency:2", DepartureTime: "00:10"},
			}},
		},
		Calendar: map[string][]string{"T1": {"2025-05-01", "2025-05-02"}},
	}
	f := feed.Assemble(ds, nil, feed.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return f.Tables()
}

func TestNewClientRejectsFileDatabaseInTestEnv(t *testing.T) {
	_, err := NewClient(NewConfig(filepath.Join(t.TempDir(), "feed.db"), appconf.Test, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-memory")
}

func TestNewClientCreatesSchema(t *testing.T) {
	client := newTestClient(t)

	counts, err := client.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"agency":          0,
		"stops":           0,
		"routes":          0,
		"trips":           0,
		"stop_times":      0,
		"calendar_dates":  0,
		"import_metadata": 0,
	}, counts)
	assert.Equal(t, ":memory:", client.GetDBPath())
}

func TestImportFeed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.ImportFeed(ctx, sampleTables()))

	counts, err := client.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["agency"])
	assert.Equal(t, 2, counts["stops"])
	assert.Equal(t, 1, counts["routes"])
	assert.Equal(t, 1, counts["trips"])
	assert.Equal(t, 2, counts["stop_times"])
	assert.Equal(t, 2, counts["calendar_dates"])

	var departure string
	err = client.DB.QueryRow(`SELECT departure_time FROM stop_times WHERE trip_id = ? AND stop_sequence = 2`, "T1").Scan(&departure)
	require.NoError(t, err)
	assert.Equal(t, "24:10:00", departure)

	var lon float64
	err = client.DB.QueryRow(`SELECT stop_lon FROM stops WHERE stop_id = ?`, "1").Scan(&lon)
	require.NoError(t, err)
	assert.Equal(t, 21.0, lon)
}

func TestImportFeedReplacesPreviousContents(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.ImportFeed(ctx, sampleTables()))
	require.NoError(t, client.ImportFeed(ctx, sampleTables()[:1]))

	counts, err := client.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["agency"])
	assert.Equal(t, 0, counts["stops"])
	assert.Equal(t, 0, counts["stop_times"])
}

func TestImportFeedRejectsUnknownTables(t *testing.T) {
	client := newTestClient(t)

	err := client.ImportFeed(context.Background(), []*feed.Table{
		{Name: "shapes", Columns: []string{"shape_id"}, Rows: [][]string{{"s"}}},
	})
	assert.Error(t, err)

	err = client.ImportFeed(context.Background(), []*feed.Table{
		{Name: "stops", Columns: []string{"stop_id; DROP TABLE stops"}, Rows: [][]string{{"s"}}},
	})
	assert.Error(t, err)
}

func TestRecordImport(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, client.RecordImport(ctx, "run-1", "citybus", at))
	require.NoError(t, client.RecordImport(ctx, "run-2", "citybus", at))

	var runID string
	var importedAt int64
	err := client.DB.QueryRow(`SELECT run_id, imported_at FROM import_metadata`).Scan(&runID, &importedAt)
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)
	assert.Equal(t, at.Unix(), importedAt)
}

func TestFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.db")
	client, err := NewClient(NewConfig(path, appconf.Development, true))
	require.NoError(t, err)

	require.NoError(t, client.ImportFeed(context.Background(), sampleTables()))
	require.NoError(t, client.Close())

	reopened, err := NewClient(NewConfig(path, appconf.Development, false))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	counts, err := reopened.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, counts["stop_times"])
}
