package feed

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"harvest.onebusaway.org/internal/logging"
)

const (
	DefaultRouteType  = 3 // bus
	DefaultRouteColor = "FFFFFF"
)

// VehicleKey selects a route of one organization. Organization is lower case.
type VehicleKey struct {
	RouteID      string
	Organization string
}

// Overrides replace the default route type and color. A nil *Overrides
// applies the defaults.
type Overrides struct {
	RouteTypes map[VehicleKey]int
	Colors     map[string]string
}

func NewOverrides() *Overrides {
	return &Overrides{
		RouteTypes: make(map[VehicleKey]int),
		Colors:     make(map[string]string),
	}
}

// RouteType returns the configured type of routeID for the agency prefix.
func (o *Overrides) RouteType(routeID, prefix string) (int, bool) {
	if o == nil {
		return 0, false
	}
	t, ok := o.RouteTypes[VehicleKey{RouteID: routeID, Organization: strings.ToLower(prefix)}]
	return t, ok
}

// Color returns the route color of the agency prefix.
func (o *Overrides) Color(prefix string) string {
	if o == nil {
		return DefaultRouteColor
	}
	if c, ok := o.Colors[strings.ToLower(prefix)]; ok {
		return c
	}
	return DefaultRouteColor
}

// LoadOverrides reads the settings file at path. A missing or unreadable
// file yields empty overrides.
func LoadOverrides(path string, logger *slog.Logger) *Overrides {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "overrides"), slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("settings file not found, using default route types and colors")
		} else {
			logging.LogError(logger, "failed to open settings file, using defaults", err)
		}
		return NewOverrides()
	}
	defer logging.SafeCloseWithLogging(f, logger, "settings_file")

	return ParseOverrides(f, logger)
}

// ParseOverrides reads line-oriented settings. Four fields
// "route_id,organization,<ignored>,route_type" set a route type; two fields
// "agency_id,color" set the color of an agency's routes. Blank lines, "#"
// comments and header lines are skipped. Malformed lines are logged and
// ignored.
func ParseOverrides(r io.Reader, logger *slog.Logger) *Overrides {
	if logger == nil {
		logger = slog.Default()
	}
	ov := NewOverrides()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || isHeader(line) {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch len(parts) {
		case 4:
			routeType, err := strconv.Atoi(parts[3])
			if err != nil {
				logging.LogWarning(logger, "skipping settings line with invalid route_type",
					slog.Int("line", lineNo),
					slog.String("value", parts[3]))
				continue
			}
			if parts[0] == "" {
				logging.LogWarning(logger, "skipping settings line without route_id", slog.Int("line", lineNo))
				continue
			}
			ov.RouteTypes[VehicleKey{RouteID: parts[0], Organization: strings.ToLower(parts[1])}] = routeType
		case 2:
			color := parts[1]
			if color == "" {
				color = DefaultRouteColor
			}
			ov.Colors[strings.ToLower(parts[0])] = color
		default:
			logging.LogWarning(logger, "skipping malformed settings line",
				slog.Int("line", lineNo),
				slog.Int("fields", len(parts)))
		}
	}
	if err := scanner.Err(); err != nil {
		logging.LogError(logger, "failed to read settings", err)
	}

	logging.LogOperation(logger, "overrides_loaded",
		slog.Int("route_types", len(ov.RouteTypes)),
		slog.Int("colors", len(ov.Colors)))
	return ov
}

func isHeader(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "route_id") || strings.HasPrefix(lower, "agency_id")
}
