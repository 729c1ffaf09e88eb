package feed

// File names of the feed tables, without extension.
const (
	TableAgency        = "agency"
	TableStops         = "stops"
	TableRoutes        = "routes"
	TableTrips         = "trips"
	TableStopTimes     = "stop_times"
	TableCalendarDates = "calendar_dates"
)

// TableNames lists the tables in archive order.
var TableNames = []string{TableAgency, TableStops, TableRoutes, TableTrips, TableStopTimes, TableCalendarDates}

var (
	agencyColumns       = []string{"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang"}
	stopColumns         = []string{"stop_id", "stop_code", "stop_name", "stop_lon", "stop_lat"}
	routeColumns        = []string{"route_id", "agency_id", "route_short_name", "route_type", "route_color"}
	tripColumns         = []string{"route_id", "service_id", "trip_id", "trip_headsign"}
	stopTimeColumns     = []string{"trip_id", "arrival_time", "departure_time", "stop_id", "stop_sequence"}
	calendarDateColumns = []string{"service_id", "date", "exception_type"}
)

// Table is one text file of the feed. Every row has len(Columns) fields.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// FileName is the archive entry name of the table.
func (t *Table) FileName() string {
	return t.Name + ".txt"
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the index of a column, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func newTable(name string, columns []string) *Table {
	return &Table{Name: name, Columns: columns}
}

func (t *Table) append(fields ...string) {
	t.Rows = append(t.Rows, fields)
}

// Feed is an assembled feed. Tables without rows are nil.
type Feed struct {
	Agency        *Table
	Stops         *Table
	Routes        *Table
	Trips         *Table
	StopTimes     *Table
	CalendarDates *Table
}

// Tables returns the non-empty tables in canonical order.
func (f *Feed) Tables() []*Table {
	var out []*Table
	for _, t := range []*Table{f.Agency, f.Stops, f.Routes, f.Trips, f.StopTimes, f.CalendarDates} {
		if t.Len() > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Counts maps table name to row count for every non-empty table.
func (f *Feed) Counts() map[string]int {
	counts := make(map[string]int)
	for _, t := range f.Tables() {
		counts[t.Name] = t.Len()
	}
	return counts
}

func nonEmpty(t *Table) *Table {
	if t.Len() == 0 {
		return nil
	}
	return t
}
