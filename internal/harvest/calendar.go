package harvest

import (
	"slices"
	"sync"
)

// Calendar collects the service dates observed for each trip. It is safe for
// concurrent writers.
type Calendar struct {
	mu    sync.Mutex
	dates map[string]map[string]struct{}
}

func NewCalendar() *Calendar {
	return &Calendar{dates: make(map[string]map[string]struct{})}
}

// Add records that tripID runs on date. Repeated observations are merged.
func (c *Calendar) Add(tripID, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.dates[tripID]
	if !ok {
		set = make(map[string]struct{})
		c.dates[tripID] = set
	}
	set[date] = struct{}{}
}

// Len returns the number of distinct trips.
func (c *Calendar) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dates)
}

// TripIDs returns the distinct trip ids in ascending order.
func (c *Calendar) TripIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.dates))
	for id := range c.dates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot copies the calendar into a plain map with ascending dates.
func (c *Calendar) Snapshot() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]string, len(c.dates))
	for id, set := range c.dates {
		dates := make([]string, 0, len(set))
		for d := range set {
			dates = append(dates, d)
		}
		slices.Sort(dates)
		out[id] = dates
	}
	return out
}
