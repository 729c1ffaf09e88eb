// Package clock provides the time source used to anchor the harvest date window.
// Production code uses RealClock; tests inject a MockClock, and operators can pin
// a run to a fixed day through an EnvironmentClock.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// FakeTimeEnvVar pins the harvester's notion of "now" when set.
const FakeTimeEnvVar = "HARVEST_FAKE_TIME"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a controllable, thread-safe Clock for tests.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// Set changes the mock clock's current time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the mock clock by d (negative values move it back).
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// EnvironmentClock reads the time from an environment variable on every call and
// falls back to the system time when the variable is unset or unparseable.
type EnvironmentClock struct {
	envVar   string
	location *time.Location
	logger   *slog.Logger
}

// NewEnvironmentClock creates an EnvironmentClock. Values without an explicit
// offset are interpreted in location (time.Local when nil).
func NewEnvironmentClock(envVar string, location *time.Location, logger *slog.Logger) *EnvironmentClock {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvironmentClock{envVar: envVar, location: location, logger: logger}
}

// Now returns the pinned time, or the system time.
func (e *EnvironmentClock) Now() time.Time {
	raw := os.Getenv(e.envVar)
	if raw == "" {
		return time.Now()
	}
	t, err := ParseTime(raw, e.location)
	if err != nil {
		e.logger.Warn("ignoring unparseable pinned time, using system time",
			slog.String("env_var", e.envVar), slog.String("value", raw))
		return time.Now()
	}
	return t
}

// FromEnvironment returns an EnvironmentClock when FakeTimeEnvVar is set and a
// RealClock otherwise.
func FromEnvironment(logger *slog.Logger) Clock {
	if os.Getenv(FakeTimeEnvVar) == "" {
		return RealClock{}
	}
	return NewEnvironmentClock(FakeTimeEnvVar, time.Local, logger)
}

// ParseTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS", "YYYY-MM-DDTHH:MM:SS" and
// "YYYY-MM-DD". Offset-less forms are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		return time.Time{}, errors.New("timezone not configured")
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q: expected RFC3339, YYYY-MM-DD HH:MM:SS, YYYY-MM-DDTHH:MM:SS or YYYY-MM-DD", s)
}
