// Package harvest runs the three-stage fetch pipeline: stop discovery, a
// timetable scan over a window of service dates, and trip detail retrieval.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"harvest.onebusaway.org/internal/clock"
	"harvest.onebusaway.org/internal/logging"
	"harvest.onebusaway.org/internal/metrics"
	"harvest.onebusaway.org/internal/models"
	"harvest.onebusaway.org/internal/timeutil"
)

const (
	DefaultConcurrency = 5
	DefaultWindowDays  = 8

	// maxLoggedFailures bounds the per-stage failure summary at warn level.
	maxLoggedFailures = 50
)

// API is the remote data source. *kpapi.Client implements it.
type API interface {
	Stops(ctx context.Context) ([]models.Stop, error)
	Departures(ctx context.Context, stopID, date string) ([]string, error)
	Trip(ctx context.Context, tripID string) (*models.TripDetail, error)
}

// Pipeline fetches a provider's dataset. Zero-valued fields fall back to
// defaults. A Pipeline must not run concurrently with itself.
type Pipeline struct {
	API         API
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Concurrency int
	WindowDays  int

	mu       sync.Mutex
	failures []Failure
}

// Run executes all three stages. A stage that ends with no data aborts the
// run with a *StageError; individual request failures are collected and
// available from Failures afterwards.
func (p *Pipeline) Run(ctx context.Context, provider models.Provider) (*models.Dataset, error) {
	p.mu.Lock()
	p.failures = nil
	p.mu.Unlock()

	logger := p.logger().With(slog.String("provider", provider.Prefix))
	started := time.Now()

	stops, err := p.fetchStops(ctx, logger)
	if err != nil {
		return nil, err
	}

	calendar, err := p.scanTimetables(ctx, logger, stops)
	if err != nil {
		return nil, err
	}

	trips, err := p.fetchTrips(ctx, logger, calendar.TripIDs())
	if err != nil {
		return nil, err
	}

	logging.LogOperation(logger, "pipeline_completed",
		slog.Int("stops", len(stops)),
		slog.Int("trips", len(trips)),
		slog.Int("failures", len(p.Failures())),
		slog.Duration("elapsed", time.Since(started)))

	return &models.Dataset{
		Provider: provider,
		Stops:    stops,
		Trips:    trips,
		Calendar: calendar.Snapshot(),
	}, nil
}

// Failures returns the request failures of the most recent run.
func (p *Pipeline) Failures() []Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.failures)
}

// FailureCounts returns the number of failures of the most recent run per stage.
func (p *Pipeline) FailureCounts() map[Stage]int {
	counts := make(map[Stage]int)
	for _, f := range p.Failures() {
		counts[f.Stage]++
	}
	return counts
}

func (p *Pipeline) fetchStops(ctx context.Context, logger *slog.Logger) ([]models.Stop, error) {
	logging.LogOperation(logger, "stage_started", slog.String("stage", string(StageStops)))

	start := time.Now()
	stops, err := p.API.Stops(ctx)
	p.Metrics.ObserveRequest(string(StageStops), time.Since(start), err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		logging.LogError(logger, "stop discovery failed", err)
		return nil, &StageError{Stage: StageStops, Err: err}
	}
	if len(stops) == 0 {
		return nil, &StageError{Stage: StageStops}
	}

	title := cases.Title(language.Polish)
	for i := range stops {
		stops[i].Name = title.String(strings.ToLower(stops[i].Name))
	}

	p.Metrics.SetStageItems(string(StageStops), len(stops))
	logging.LogOperation(logger, "stage_completed",
		slog.String("stage", string(StageStops)),
		slog.Int("stops", len(stops)))
	return stops, nil
}

type stopDate struct {
	stop models.Stop
	date string
}

func (p *Pipeline) scanTimetables(ctx context.Context, logger *slog.Logger, stops []models.Stop) (*Calendar, error) {
	// One window for the whole stage, even if the scan runs past midnight.
	dates := slices.Collect(timeutil.DaysAhead(p.clock(), p.windowDays()))

	work := make([]stopDate, 0, len(stops)*len(dates))
	for _, stop := range stops {
		for _, date := range dates {
			work = append(work, stopDate{stop: stop, date: date})
		}
	}

	logging.LogOperation(logger, "stage_started",
		slog.String("stage", string(StageTimetables)),
		slog.Int("requests", len(work)),
		slog.String("first_date", dates[0]),
		slog.String("last_date", dates[len(dates)-1]))

	calendar := NewCalendar()
	failures := &failureLog{}
	prog := newProgress(logger, StageTimetables, len(work))

	err := forEach(ctx, p.concurrency(), work, func(ctx context.Context, _ int, w stopDate) {
		defer prog.step()

		start := time.Now()
		tripIDs, err := p.API.Departures(ctx, w.stop.ID, w.date)
		p.Metrics.ObserveRequest(string(StageTimetables), time.Since(start), err)
		if err != nil {
			failures.add(Failure{
				Stage: StageTimetables,
				Item:  fmt.Sprintf("%s %s (%s)", w.stop.Name, w.stop.Code, w.stop.ID),
				Date:  w.date,
				Err:   err,
			})
			return
		}
		for _, id := range tripIDs {
			calendar.Add(id, w.date)
		}
	})
	p.closeStage(logger, StageTimetables, failures)
	if err != nil {
		return nil, err
	}

	if calendar.Len() == 0 {
		return nil, &StageError{Stage: StageTimetables}
	}

	p.Metrics.SetStageItems(string(StageTimetables), calendar.Len())
	logging.LogOperation(logger, "stage_completed",
		slog.String("stage", string(StageTimetables)),
		slog.Int("trips", calendar.Len()))
	return calendar, nil
}

func (p *Pipeline) fetchTrips(ctx context.Context, logger *slog.Logger, tripIDs []string) ([]models.TripDetail, error) {
	logging.LogOperation(logger, "stage_started",
		slog.String("stage", string(StageTrips)),
		slog.Int("requests", len(tripIDs)))

	// Each task owns one slot, so ordering follows tripIDs.
	slots := make([]*models.TripDetail, len(tripIDs))
	failures := &failureLog{}
	prog := newProgress(logger, StageTrips, len(tripIDs))

	err := forEach(ctx, p.concurrency(), tripIDs, func(ctx context.Context, i int, id string) {
		defer prog.step()

		start := time.Now()
		detail, err := p.API.Trip(ctx, id)
		p.Metrics.ObserveRequest(string(StageTrips), time.Since(start), err)
		if err != nil {
			failures.add(Failure{Stage: StageTrips, Item: id, Err: err})
			return
		}
		slots[i] = detail
	})
	p.closeStage(logger, StageTrips, failures)
	if err != nil {
		return nil, err
	}

	trips := make([]models.TripDetail, 0, len(slots))
	for _, detail := range slots {
		if detail != nil {
			trips = append(trips, *detail)
		}
	}
	if len(trips) == 0 {
		return nil, &StageError{Stage: StageTrips}
	}

	p.Metrics.SetStageItems(string(StageTrips), len(trips))
	logging.LogOperation(logger, "stage_completed",
		slog.String("stage", string(StageTrips)),
		slog.Int("trips", len(trips)))
	return trips, nil
}

// closeStage freezes a stage's failures into the run record and summarizes them.
func (p *Pipeline) closeStage(logger *slog.Logger, stage Stage, log *failureLog) {
	failures := log.snapshot()
	if len(failures) == 0 {
		return
	}

	p.mu.Lock()
	p.failures = append(p.failures, failures...)
	p.mu.Unlock()

	logging.LogWarning(logger, "requests failed during stage",
		slog.String("stage", string(stage)),
		slog.Int("count", len(failures)))
	for i, f := range failures {
		if i == maxLoggedFailures {
			logger.Warn("further failures omitted",
				slog.String("stage", string(stage)),
				slog.Int("omitted", len(failures)-maxLoggedFailures))
			break
		}
		logger.Warn("request failed",
			slog.String("stage", string(stage)),
			slog.String("item", f.Item),
			slog.String("date", f.Date),
			slog.String("error", f.Err.Error()))
	}
}

func (p *Pipeline) logger() *slog.Logger {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", "harvest"))
}

func (p *Pipeline) clock() clock.Clock {
	if p.Clock == nil {
		return clock.RealClock{}
	}
	return p.Clock
}

func (p *Pipeline) concurrency() int {
	if p.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return p.Concurrency
}

func (p *Pipeline) windowDays() int {
	if p.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return p.WindowDays
}

type failureLog struct {
	mu    sync.Mutex
	items []Failure
}

func (l *failureLog) add(f Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, f)
}

func (l *failureLog) snapshot() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}
