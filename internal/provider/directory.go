// Package provider looks up transit operators in the public provider
// directory.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"harvest.onebusaway.org/internal/logging"
	"harvest.onebusaway.org/internal/models"
)

// DefaultDirectoryURL lists every provider served by the platform.
const DefaultDirectoryURL = "https://kml.kiedyprzyjedzie.pl/api/customers"

const maxDirectorySize = 4 * 1024 * 1024

var ErrNotFound = errors.New("provider not found")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports whether p can be harvested. The prefix becomes both a
// host label and the archive file name, so it must be a plain DNS label.
func Validate(p models.Provider) error {
	if p.Prefix == "" || p.Domain == "" {
		return fmt.Errorf("provider %q: prefix and domain are required", p.Name)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("provider %q: %w", p.Prefix, err)
	}
	return nil
}

// AmbiguousError is returned when a query matches more than one provider.
type AmbiguousError struct {
	Query      string
	Candidates []models.Provider
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, p := range e.Candidates {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Prefix))
	}
	return fmt.Sprintf("provider query %q is ambiguous: %s", e.Query, strings.Join(names, ", "))
}

// Directory fetches the provider list.
type Directory struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type directoryResponse struct {
	Customers []models.Provider `json:"customers"`
}

// List returns the providers sorted by name. Entries that fail Validate are
// logged and dropped.
func (d *Directory) List(ctx context.Context) ([]models.Provider, error) {
	target := d.URL
	if target == "" {
		target = DefaultDirectoryURL
	}
	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "provider_directory"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider directory: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider directory fetch failed: %s returned %s", target, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectorySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxDirectorySize {
		return nil, fmt.Errorf("provider directory exceeds size limit of %d bytes", maxDirectorySize)
	}

	var parsed directoryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode provider directory: %w", err)
	}

	providers := make([]models.Provider, 0, len(parsed.Customers))
	for _, p := range parsed.Customers {
		if err := Validate(p); err != nil {
			logging.LogWarning(logger, "skipping provider directory entry",
				slog.String("error", err.Error()))
			continue
		}
		providers = append(providers, p)
	}
	slices.SortFunc(providers, func(a, b models.Provider) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	logging.LogOperation(logger, "provider_directory_loaded", slog.Int("providers", len(providers)))
	return providers, nil
}

// Find selects one provider. An exact prefix match wins; otherwise the query
// must be a case-insensitive substring of exactly one provider name.
func Find(providers []models.Provider, query string) (models.Provider, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return models.Provider{}, fmt.Errorf("%w: empty query", ErrNotFound)
	}

	for _, p := range providers {
		if strings.ToLower(p.Prefix) == q {
			return p, nil
		}
	}

	var matches []models.Provider
	for _, p := range providers {
		if strings.Contains(strings.ToLower(p.Name), q) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return models.Provider{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	case 1:
		return matches[0], nil
	default:
		return models.Provider{}, &AmbiguousError{Query: query, Candidates: matches}
	}
}
