// Package kpapi is a client for the stop, timetable and trip endpoints of a
// provider's passenger-information API.
package kpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"harvest.onebusaway.org/internal/logging"
	"harvest.onebusaway.org/internal/models"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 32 * 1024 * 1024
	defaultUserAgent   = "gtfs-harvester/1.0"
)

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %s", e.URL, e.Status)
}

// Options tune a Client. Zero values select the defaults.
type Options struct {
	Timeout           time.Duration
	MaxBodySize       int64
	RequestsPerSecond float64
	UserAgent         string
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to one provider. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxBodySize int64
	userAgent   string
	logger      *slog.Logger
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		httpClient:  opts.HTTPClient,
		maxBodySize: opts.MaxBodySize,
		userAgent:   opts.UserAgent,
		logger:      opts.Logger,
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = newHTTPClient(timeout)
	}
	if c.maxBodySize <= 0 {
		c.maxBodySize = defaultMaxBodySize
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("component", "kpapi"))
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Stops returns every stop the provider publishes. Entries that cannot be
// decoded are logged and skipped.
func (c *Client) Stops(ctx context.Context) ([]models.Stop, error) {
	var resp stopsResponse
	if err := c.getJSON(ctx, c.endpoint(nil, "stops"), &resp); err != nil {
		return nil, err
	}

	stops := make([]models.Stop, 0, len(resp.Stops))
	for i, raw := range resp.Stops {
		stop, err := decodeStopTuple(raw)
		if err != nil {
			logging.LogWarning(c.logger, "skipping malformed stop entry",
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

// Departures returns the trip ids departing from stopID on date (YYYY-MM-DD).
func (c *Client) Departures(ctx context.Context, stopID, date string) ([]string, error) {
	var resp timetableResponse
	query := url.Values{"date": []string{date}}
	if err := c.getJSON(ctx, c.endpoint(query, "api", "timetables", stopID), &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Departures))
	for _, d := range resp.Departures {
		if d.TripID == "" {
			continue
		}
		ids = append(ids, string(d.TripID))
	}
	return ids, nil
}

// Trip returns the stop sequence and line information of one trip.
func (c *Client) Trip(ctx context.Context, tripID string) (*models.TripDetail, error) {
	var resp tripResponse
	if err := c.getJSON(ctx, c.endpoint(nil, "api", "trip", tripID, "0"), &resp); err != nil {
		return nil, err
	}
	return resp.toModel(tripID), nil
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", target, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return &StatusError{URL: target, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxBodySize {
		return fmt.Errorf("response from %s exceeds size limit of %d bytes", target, c.maxBodySize)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
