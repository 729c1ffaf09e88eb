package models

import (
	"fmt"
	"strings"
)

// Provider identifies the operator whose API is harvested.
type Provider struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix" validate:"omitempty,max=63,hostname_rfc1123"`
	Domain string `json:"domain" validate:"required_with=Prefix,omitempty,fqdn"`
}

// BaseURL is the root of the provider's API.
func (p Provider) BaseURL() string {
	return fmt.Sprintf("https://%s.%s", p.Prefix, p.Domain)
}

// ArchiveName is the file name of the feed generated for this provider.
func (p Provider) ArchiveName() string {
	return p.Prefix + ".gtfs.zip"
}

// Stop is a stop as published by the provider. Coordinates are micro-degrees.
type Stop struct {
	ID        string
	Code      string
	Name      string
	Longitude int64
	Latitude  int64
}

// StopTime is a single scheduled call of a trip.
type StopTime struct {
	PlaceID       string
	DepartureTime string // HH:MM
}

// TripDetail is the schedule of one trip.
type TripDetail struct {
	TripID    string
	Direction string
	LineName  string
	StopTimes []StopTime
}

// Dataset is everything the fetch pipeline hands to the feed assembler.
// Calendar maps trip id to its service dates (YYYY-MM-DD, ascending).
type Dataset struct {
	Provider Provider
	Stops    []Stop
	Trips    []TripDetail
	Calendar map[string][]string
}

// LocalID strips a provider prefix such as "agency:" from an identifier.
func LocalID(id string) string {
	if _, suffix, found := strings.Cut(id, ":"); found {
		return suffix
	}
	return id
}
