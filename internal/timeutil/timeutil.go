// Package timeutil converts between wall-clock strings, second offsets and the
// calendar dates that make up the harvest window.
package timeutil

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"harvest.onebusaway.org/internal/clock"
)

// SecondsPerDay is the offset added to a departure that crosses midnight.
const SecondsPerDay = 24 * 60 * 60

// FormatError reports a malformed wall-clock value.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time %q: %s", e.Value, e.Reason)
}

// DaysAhead yields n consecutive dates starting today as YYYY-MM-DD. The clock
// is consulted each time the sequence is ranged over.
func DaysAhead(c clock.Clock, n int) iter.Seq[string] {
	return func(yield func(string) bool) {
		now := c.Now()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		for i := 0; i < n; i++ {
			if !yield(today.AddDate(0, 0, i).Format(time.DateOnly)) {
				return
			}
		}
	}
}

// TimeToSeconds parses "HH:MM" into seconds since the start of the service day.
// Hours above 23 are accepted.
func TimeToSeconds(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, &FormatError{Value: s, Reason: "expected HH:MM"}
	}
	if strings.Contains(mm, ":") {
		return 0, &FormatError{Value: s, Reason: "expected exactly one colon"}
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 {
		return 0, &FormatError{Value: s, Reason: "hour is not a non-negative integer"}
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, &FormatError{Value: s, Reason: "minute is not in 0-59"}
	}
	return hours*3600 + minutes*60, nil
}

// SecondsToTime formats seconds as HH:MM:SS without wrapping at 24 hours, so
// 91800 becomes "25:30:00".
func SecondsToTime(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ISODateToCompact turns YYYY-MM-DD into YYYYMMDD.
func ISODateToCompact(date string) string {
	return strings.ReplaceAll(date, "-", "")
}
