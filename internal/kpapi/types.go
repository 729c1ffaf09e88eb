package kpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"harvest.onebusaway.org/internal/models"
)

// flexString accepts a JSON string, number or null. Provider ids are sometimes
// published as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*f = flexString(n.String())
	}
	return nil
}

// lineName accepts a plain value or an object carrying a "name" field.
type lineName string

func (l *lineName) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Name flexString `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*l = lineName(obj.Name)
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*l = lineName(s)
	return nil
}

type stopsResponse struct {
	Stops []json.RawMessage `json:"stops"`
}

type departure struct {
	TripID flexString `json:"trip_id"`
}

type timetableResponse struct {
	Departures []departure `json:"departures"`
}

type tripTime struct {
	PlaceID       flexString `json:"place_id"`
	DepartureTime flexString `json:"departure_time"`
}

type tripResponse struct {
	Times     []tripTime `json:"times"`
	Direction flexString `json:"direction"`
	LineName  lineName   `json:"line_name"`
	Line      lineName   `json:"line"`
}

func (r tripResponse) toModel(tripID string) *models.TripDetail {
	name := strings.TrimSpace(string(r.LineName))
	if name == "" {
		name = strings.TrimSpace(string(r.Line))
	}
	detail := &models.TripDetail{
		TripID:    tripID,
		Direction: string(r.Direction),
		LineName:  name,
		StopTimes: make([]models.StopTime, 0, len(r.Times)),
	}
	for _, t := range r.Times {
		detail.StopTimes = append(detail.StopTimes, models.StopTime{
			PlaceID:       string(t.PlaceID),
			DepartureTime: string(t.DepartureTime),
		})
	}
	return detail
}

// decodeStopTuple reads one [id, code, name, lon, lat] entry.
func decodeStopTuple(raw json.RawMessage) (models.Stop, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Stop{}, fmt.Errorf("stop entry is not an array: %w", err)
	}
	if len(fields) < 5 {
		return models.Stop{}, fmt.Errorf("stop entry has %d fields, want 5", len(fields))
	}

	var id flexString
	if err := id.UnmarshalJSON(fields[0]); err != nil {
		return models.Stop{}, fmt.Errorf("stop id: %w", err)
	}
	if id == "" {
		return models.Stop{}, fmt.Errorf("stop id is empty")
	}
	var code flexString
	if err := code.UnmarshalJSON(fields[1]); err != nil {
		return models.Stop{}, fmt.Errorf("stop %s code: %w", id, err)
	}
	var name flexString
	if err := name.UnmarshalJSON(fields[2]); err != nil {
		return models.Stop{}, fmt.Errorf("stop %s name: %w", id, err)
	}
	lon, err := parseNumber(fields[3])
	if err != nil {
		return models.Stop{}, fmt.Errorf("stop %s longitude: %w", id, err)
	}
	lat, err := parseNumber(fields[4])
	if err != nil {
		return models.Stop{}, fmt.Errorf("stop %s latitude: %w", id, err)
	}

	return models.Stop{
		ID:        string(id),
		Code:      strings.TrimSpace(string(code)),
		Name:      string(name),
		Longitude: int64(math.Round(lon)),
		Latitude:  int64(math.Round(lat)),
	}, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "null" || s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return 0, err
		}
		s = strings.TrimSpace(unquoted)
	}
	return strconv.ParseFloat(s, 64)
}
