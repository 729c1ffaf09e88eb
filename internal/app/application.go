package app

import (
	"io"
	"log/slog"

	"harvest.onebusaway.org/internal/appconf"
	"harvest.onebusaway.org/internal/clock"
	"harvest.onebusaway.org/internal/kpapi"
	"harvest.onebusaway.org/internal/metrics"
	"harvest.onebusaway.org/internal/provider"
)

// Application holds the dependencies of one harvest run. Everything that
// talks to the network or the clock is reached through here so that tests
// can swap it out.
type Application struct {
	Config    appconf.Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Directory *provider.Directory
	RunID     string

	// API is nil until the provider has been resolved.
	API *kpapi.Client

	logCloser io.Closer
}

// NewAPIClient creates the client for the resolved provider and stores it on
// the application.
func (app *Application) NewAPIClient() (*kpapi.Client, error) {
	client, err := kpapi.NewClient(app.Config.FetchURL(), kpapi.Options{
		Timeout:           app.Config.RequestTimeout,
		RequestsPerSecond: app.Config.RequestsPerSecond,
		Logger:            app.Logger,
	})
	if err != nil {
		return nil, err
	}
	app.API = client
	return client, nil
}

// SetLogCloser registers the closer returned by logging.New.
func (app *Application) SetLogCloser(c io.Closer) {
	app.logCloser = c
}

// Close releases the metrics collector and the log file.
func (app *Application) Close() error {
	if app.Metrics != nil {
		app.Metrics.Shutdown()
	}
	if app.logCloser != nil {
		return app.logCloser.Close()
	}
	return nil
}
