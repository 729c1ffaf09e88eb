package archive

import (
	"fmt"
	"os"

	"github.com/OneBusAway/go-gtfs"
)

// Summary counts the entities a GTFS parser recovered from an archive.
type Summary struct {
	Agencies  int
	Routes    int
	Stops     int
	Trips     int
	Services  int
	StopTimes int
	Warnings  int
}

// Verify parses the archive at path and reports what it contains. It fails
// when a required file is missing or unreadable.
func Verify(path string) (*Summary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive is not a valid GTFS feed: %w", err)
	}

	s := &Summary{
		Agencies: len(static.Agencies),
		Routes:   len(static.Routes),
		Stops:    len(static.Stops),
		Trips:    len(static.Trips),
		Services: len(static.Services),
		Warnings: len(static.Warnings),
	}
	for _, trip := range static.Trips {
		s.StopTimes += len(trip.StopTimes)
	}
	return s, nil
}
