package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvest.onebusaway.org/internal/models"
)

var providers = []models.Provider{
	{Name: "City Bus", Prefix: "citybus", Domain: "example.pl"},
	{Name: "City Tram", Prefix: "tram", Domain: "example.pl"},
	{Name: "Suburban Lines", Prefix: "sub", Domain: "example.pl"},
}

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"customers":[
			{"name":"Zebra Transit","prefix":"zebra","domain":"example.pl"},
			{"name":"alpha bus","prefix":"alpha","domain":"example.pl"},
			{"name":"No Prefix","prefix":"","domain":"example.pl"},
			{"name":"Escaping","prefix":"../../etc","domain":"example.pl"},
			{"name":"Nested","prefix":"a/b","domain":"example.pl"}
		]}`))
	}))
	defer server.Close()

	d := &Directory{URL: server.URL}
	got, err := d.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.Provider{
		{Name: "alpha bus", Prefix: "alpha", Domain: "example.pl"},
		{Name: "Zebra Transit", Prefix: "zebra", Domain: "example.pl"},
	}, got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       models.Provider
		wantErr bool
	}{
		{"plain label", models.Provider{Prefix: "citybus", Domain: "example.pl"}, false},
		{"hyphenated label", models.Provider{Prefix: "mpk-poznan", Domain: "example.pl"}, false},
		{"missing domain", models.Provider{Prefix: "citybus"}, true},
		{"missing prefix", models.Provider{Domain: "example.pl"}, true},
		{"parent directory", models.Provider{Prefix: "..", Domain: "example.pl"}, true},
		{"path separator", models.Provider{Prefix: "a/b", Domain: "example.pl"}, true},
		{"backslash", models.Provider{Prefix: `a\b`, Domain: "example.pl"}, true},
		{"bad domain", models.Provider{Prefix: "citybus", Domain: "not a domain"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.p)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := &Directory{URL: server.URL}
	_, err := d.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestListMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	d := &Directory{URL: server.URL}
	_, err := d.List(context.Background())
	assert.Error(t, err)
}

func TestFindByPrefix(t *testing.T) {
	p, err := Find(providers, "TRAM")
	require.NoError(t, err)
	assert.Equal(t, "tram", p.Prefix)
}

func TestFindByUniqueName(t *testing.T) {
	p, err := Find(providers, "suburban")
	require.NoError(t, err)
	assert.Equal(t, "sub", p.Prefix)
}

func TestFindAmbiguous(t *testing.T) {
	_, err := Find(providers, "city")

	var ambiguous *AmbiguousError
	require.True(t, errors.As(err, &ambiguous))
	assert.Len(t, ambiguous.Candidates, 2)
	assert.Contains(t, err.Error(), "City Bus (citybus)")
}

func TestFindMissing(t *testing.T) {
	_, err := Find(providers, "ferry")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Find(providers, "  ")
	assert.ErrorIs(t, err, ErrNotFound)
}
