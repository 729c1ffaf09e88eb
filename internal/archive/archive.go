// Package archive packages feed tables into a GTFS zip file.
package archive

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"harvest.onebusaway.org/internal/feed"
	"harvest.onebusaway.org/internal/logging"
)

// entryTime stamps every zip entry so that the same tables always produce the
// same archive bytes.
var entryTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Write stores every non-empty table as "<name>.txt" in a zip archive at
// path. The archive is assembled in a temporary file next to path and
// renamed into place, so path never holds a partial archive.
func Write(path string, tables []*feed.Table) error {
	return WriteWithLogger(path, tables, slog.Default())
}

// WriteWithLogger is Write with an explicit logger.
func WriteWithLogger(path string, tables []*feed.Table, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "archive_writer"))

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary archive: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logging.LogError(logger, "Failed to remove temporary archive", removeErr,
				slog.String("path", tmpPath))
		}
	}

	if err := writeZip(tmp, tables, logger); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temporary archive: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set archive permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	logging.LogOperation(logger, "archive_written", slog.String("path", path))
	return nil
}

func writeZip(w io.Writer, tables []*feed.Table, logger *slog.Logger) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, t := range tables {
		if t.Len() == 0 {
			continue
		}
		if err := writeTable(zw, t, entryTime); err != nil {
			return fmt.Errorf("failed to write %s: %w", t.FileName(), err)
		}
		logger.Debug("wrote table",
			slog.String("file", t.FileName()),
			slog.Int("rows", t.Len()))
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func writeTable(zw *zip.Writer, t *feed.Table, modified time.Time) error {
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     t.FileName(),
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return err
	}

	out := csv.NewWriter(entry)
	if err := out.Write(t.Columns); err != nil {
		return err
	}
	if err := out.WriteAll(t.Rows); err != nil {
		return err
	}
	return out.Error()
}
