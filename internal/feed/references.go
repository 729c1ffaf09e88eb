package feed

import (
	"fmt"
	"log/slog"

	"harvest.onebusaway.org/internal/logging"
)

// Issue is a dangling reference between two tables.
type Issue struct {
	Table  string
	Row    int // 1-based data row
	Column string
	Value  string
	Target string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s row %d: %s %q not found in %s", i.Table, i.Row, i.Column, i.Value, i.Target)
}

type reference struct {
	from, fromColumn string
	to, toColumn     string
}

var references = []reference{
	{TableRoutes, "agency_id", TableAgency, "agency_id"},
	{TableTrips, "route_id", TableRoutes, "route_id"},
	{TableStopTimes, "trip_id", TableTrips, "trip_id"},
	{TableStopTimes, "stop_id", TableStops, "stop_id"},
	{TableCalendarDates, "service_id", TableTrips, "service_id"},
}

// CheckReferences reports every foreign key of the feed that does not resolve.
// A reference into an omitted table is reported for each referring row.
func CheckReferences(f *Feed) []Issue {
	byName := make(map[string]*Table)
	for _, t := range []*Table{f.Agency, f.Stops, f.Routes, f.Trips, f.StopTimes, f.CalendarDates} {
		if t != nil {
			byName[t.Name] = t
		}
	}

	var issues []Issue
	for _, ref := range references {
		from := byName[ref.from]
		if from == nil {
			continue
		}
		col := from.Column(ref.fromColumn)
		known := keys(byName[ref.to], ref.toColumn)
		for i, row := range from.Rows {
			if _, ok := known[row[col]]; ok {
				continue
			}
			issues = append(issues, Issue{
				Table:  ref.from,
				Row:    i + 1,
				Column: ref.fromColumn,
				Value:  row[col],
				Target: ref.to,
			})
		}
	}
	return issues
}

// LogIssues writes a summary and the first few issues as warnings.
func LogIssues(logger *slog.Logger, issues []Issue) {
	if len(issues) == 0 {
		return
	}
	const shown = 20
	logging.LogWarning(logger, "feed has dangling references", slog.Int("count", len(issues)))
	for i, issue := range issues {
		if i == shown {
			logger.Warn("further reference issues omitted", slog.Int("omitted", len(issues)-shown))
			return
		}
		logger.Warn(issue.String())
	}
}

func keys(t *Table, column string) map[string]struct{} {
	out := make(map[string]struct{})
	if t == nil {
		return out
	}
	col := t.Column(column)
	for _, row := range t.Rows {
		out[row[col]] = struct{}{}
	}
	return out
}
