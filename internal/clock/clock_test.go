package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	result := c.Now()
	after := time.Now()

	assert.False(t, result.Before(before), "RealClock.Now() should not be before the call")
	assert.False(t, result.After(after), "RealClock.Now() should not be after the call")
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2025, 3, 30, 23, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(2 * time.Hour)
	assert.Equal(t, time.Date(2025, 3, 31, 1, 0, 0, 0, time.UTC), c.Now())

	c.Advance(-1 * time.Hour)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestMockClock_ConcurrentAccess(t *testing.T) {
	c := NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 50, 0, time.UTC), c.Now())
}

func TestEnvironmentClock_PinnedValue(t *testing.T) {
	const envVar = "TEST_HARVEST_CLOCK"
	t.Setenv(envVar, "2025-06-15")

	c := NewEnvironmentClock(envVar, time.UTC, nil)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), c.Now())
}

func TestEnvironmentClock_FallbackOnInvalidValue(t *testing.T) {
	const envVar = "TEST_HARVEST_CLOCK_BAD"
	t.Setenv(envVar, "2025-1")

	c := NewEnvironmentClock(envVar, time.UTC, nil)
	before := time.Now()
	result := c.Now()
	after := time.Now()

	assert.False(t, result.Before(before))
	assert.False(t, result.After(after))
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv(FakeTimeEnvVar, "")
	_, isReal := FromEnvironment(nil).(RealClock)
	assert.True(t, isReal)

	t.Setenv(FakeTimeEnvVar, "2025-01-02T03:04:05Z")
	c := FromEnvironment(nil)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), c.Now().UTC())
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)

	tests := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{"RFC3339", "2025-01-02T10:00:00Z", time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)},
		{"space separated", "2025-01-02 10:00:00", time.Date(2025, 1, 2, 10, 0, 0, 0, loc)},
		{"T separated", "2025-01-02T10:00:00", time.Date(2025, 1, 2, 10, 0, 0, 0, loc)},
		{"date only", " 2025-01-02\n", time.Date(2025, 1, 2, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input, loc)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "got %s want %s", got, tt.expected)
		})
	}

	_, err := ParseTime("yesterday", loc)
	assert.Error(t, err)

	_, err = ParseTime("2025-01-02", nil)
	assert.ErrorContains(t, err, "timezone not configured")
}
