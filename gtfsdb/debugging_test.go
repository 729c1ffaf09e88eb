package gtfsdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableCountsOnlyCoversFeedSchema(t *testing.T) {
	client := newTestClient(t)

	_, err := client.DB.Exec(`
		CREATE TABLE secret_table (id TEXT);
		INSERT INTO secret_table VALUES ('x'), ('y');
	`)
	require.NoError(t, err)
	require.NoError(t, client.RecordImport(context.Background(), "run-1", "citybus", time.Unix(0, 0)))

	counts, err := client.TableCounts()
	require.NoError(t, err)

	assert.Len(t, counts, len(tableColumns)+1, "feed tables plus import_metadata")
	for table := range tableColumns {
		assert.Contains(t, counts, table)
	}
	assert.Equal(t, 1, counts["import_metadata"])
	assert.NotContains(t, counts, "secret_table")
}

func TestTableCountsAfterImport(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.ImportFeed(context.Background(), sampleTables()))

	counts, err := client.TableCounts()
	require.NoError(t, err)

	for _, table := range sampleTables() {
		assert.Equal(t, len(table.Rows), counts[table.Name], table.Name)
	}
}
