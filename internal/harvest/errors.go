package harvest

import (
	"errors"
	"fmt"
)

// Stage names a step of the fetch pipeline.
type Stage string

const (
	StageStops      Stage = "stops"
	StageTimetables Stage = "timetables"
	StageTrips      Stage = "trips"
)

// ErrNoData is matched by every fatal pipeline outcome.
var ErrNoData = errors.New("no data")

// StageError aborts a run. Err is the request error when the stage failed
// outright and nil when it completed with an empty result.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage produced no data", e.Stage)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is reports ErrNoData so callers can tell an aborted run from other errors.
func (e *StageError) Is(target error) bool { return target == ErrNoData }

// Failure is a single request that failed without aborting its stage.
type Failure struct {
	Stage Stage
	Item  string
	Date  string
	Err   error
}

func (f Failure) String() string {
	if f.Date != "" {
		return fmt.Sprintf("%s: %s (%v)", f.Item, f.Date, f.Err)
	}
	return fmt.Sprintf("%s (%v)", f.Item, f.Err)
}
