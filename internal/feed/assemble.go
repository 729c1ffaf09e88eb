// Package feed turns a harvested dataset into the tables of a static GTFS
// feed.
package feed

import (
	"log/slog"
	"strconv"
	"strings"

	"harvest.onebusaway.org/internal/logging"
	"harvest.onebusaway.org/internal/models"
	"harvest.onebusaway.org/internal/timeutil"
)

const (
	DefaultTimezone = "Europe/Warsaw"
	DefaultLang     = "pl"

	// UnknownRoute is the route of trips without a line name.
	UnknownRoute = "unknown"

	exceptionTypeAdded = "1"
)

// Options control the agency row and where warnings go.
type Options struct {
	Timezone string
	Lang     string
	Logger   *slog.Logger
}

type route struct {
	id        string
	routeType int
	color     string
}

// Assemble builds the feed tables. It does no I/O besides logging; trips are
// processed in dataset order, which fixes the row order of every table.
func Assemble(ds *models.Dataset, ov *Overrides, opts Options) *Feed {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "feed_assembler"))

	prefix := ds.Provider.Prefix

	agency := newTable(TableAgency, agencyColumns)
	agency.append(prefix, ds.Provider.Name, ds.Provider.BaseURL(),
		defaultString(opts.Timezone, DefaultTimezone),
		defaultString(opts.Lang, DefaultLang))

	stops := newTable(TableStops, stopColumns)
	for _, s := range ds.Stops {
		stops.append(models.LocalID(s.ID),
			s.Code,
			s.Name,
			FormatCoordinate(s.Longitude),
			FormatCoordinate(s.Latitude))
	}

	var routeOrder []*route
	routeByID := make(map[string]*route)
	trips := newTable(TableTrips, tripColumns)
	stopTimes := newTable(TableStopTimes, stopTimeColumns)
	calendarDates := newTable(TableCalendarDates, calendarDateColumns)

	for _, trip := range ds.Trips {
		routeID := strings.TrimSpace(trip.LineName)
		if routeID == "" {
			routeID = UnknownRoute
		}
		if _, ok := routeByID[routeID]; !ok {
			r := &route{id: routeID, routeType: DefaultRouteType, color: ov.Color(prefix)}
			routeByID[routeID] = r
			routeOrder = append(routeOrder, r)
		}

		serviceID := trip.TripID
		trips.append(routeID, serviceID, trip.TripID, trip.Direction)

		for _, date := range ds.Calendar[trip.TripID] {
			calendarDates.append(serviceID, timeutil.ISODateToCompact(date), exceptionTypeAdded)
		}

		appendStopTimes(stopTimes, trip, logger)
	}

	routes := newTable(TableRoutes, routeColumns)
	for _, r := range routeOrder {
		if t, ok := ov.RouteType(r.id, prefix); ok {
			r.routeType = t
		}
		routes.append(r.id, prefix, r.id, strconv.Itoa(r.routeType), r.color)
	}

	f := &Feed{
		Agency:        agency,
		Stops:         nonEmpty(stops),
		Routes:        nonEmpty(routes),
		Trips:         nonEmpty(trips),
		StopTimes:     nonEmpty(stopTimes),
		CalendarDates: nonEmpty(calendarDates),
	}

	logging.LogOperation(logger, "feed_assembled",
		slog.Int("stops", stops.Len()),
		slog.Int("routes", routes.Len()),
		slog.Int("trips", trips.Len()),
		slog.Int("stop_times", stopTimes.Len()),
		slog.Int("calendar_dates", calendarDates.Len()))
	return f
}

// appendStopTimes emits a trip's calls. A departure earlier than the previous
// emitted one is moved to the next day; the comparison is always against the
// last emitted value, so a trip is shifted at most once per regression.
func appendStopTimes(t *Table, trip models.TripDetail, logger *slog.Logger) {
	last := -1
	for i, st := range trip.StopTimes {
		seconds, err := timeutil.TimeToSeconds(st.DepartureTime)
		if err != nil {
			logging.LogWarning(logger, "skipping stop time with invalid departure",
				slog.String("trip_id", trip.TripID),
				slog.Int("stop_sequence", i+1),
				slog.String("error", err.Error()))
			continue
		}
		if seconds < last {
			seconds += timeutil.SecondsPerDay
		}
		last = seconds

		formatted := timeutil.SecondsToTime(seconds)
		t.append(trip.TripID, formatted, formatted, models.LocalID(st.PlaceID), strconv.Itoa(i+1))
	}
}

// FormatCoordinate renders micro-degrees as decimal degrees, always with a
// fractional part: 21000000 becomes "21.0".
func FormatCoordinate(micro int64) string {
	s := strconv.FormatFloat(float64(micro)/1e6, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
