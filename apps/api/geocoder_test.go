package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapboxGeocoder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4.89", r.URL.Query().Get("longitude"))
		assert.Equal(t, "52.37", r.URL.Query().Get("latitude"))
		assert.Equal(t, "pk.test", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"features":[{"properties":{"full_address":"Dam 1, 1012 JS Amsterdam","context":{"place":{"name":"Amsterdam"},"postcode":{"name":"1012 JS"}}}}]}`))
	}))
	defer server.Close()

	geocoder := &MapboxGeocoder{AccessToken: "pk.test", Client: server.Client(), BaseURL: server.URL}
	result, err := geocoder.Geocode(context.Background(), 52.37, 4.89)
	require.NoError(t, err)
	assert.Equal(t, &GeocodeResult{Address: "Dam 1, 1012 JS Amsterdam", City: "Amsterdam", PostalCode: "1012 JS"}, result)

	_, err = (&MapboxGeocoder{Client: server.Client(), BaseURL: server.URL}).Geocode(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestNominatimGeocoder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "civicreport-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"address":{"road":"Oudegracht","house_number":"12","town":"Utrecht","postcode":"3511 AB"}}`))
	}))
	defer server.Close()

	geocoder := &NominatimGeocoder{UserAgent: "civicreport-test", Client: server.Client(), BaseURL: server.URL}
	result, err := geocoder.Geocode(context.Background(), 52.09, 5.12)
	require.NoError(t, err)
	assert.Equal(t, &GeocodeResult{Address: "Oudegracht 12", City: "Utrecht", PostalCode: "3511 AB"}, result)
}

func TestNominatimGeocoderEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer server.Close()

	geocoder := &NominatimGeocoder{Client: server.Client(), BaseURL: server.URL}
	result, err := geocoder.Geocode(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFallbackGeocoder(t *testing.T) {
	primary := &stubGeocoder{err: assert.AnError}
	secondary := &stubGeocoder{result: &GeocodeResult{City: "Leiden"}}
	geocoder := &FallbackGeocoder{Primary: primary, Secondary: secondary}

	result, err := geocoder.Geocode(context.Background(), 52.16, 4.49)
	require.NoError(t, err)
	assert.Equal(t, "Leiden", result.City)
	assert.Equal(t, 1, secondary.calls)

	primary.err = nil
	primary.result = &GeocodeResult{City: "Delft"}
	result, err = geocoder.Geocode(context.Background(), 52.01, 4.36)
	require.NoError(t, err)
	assert.Equal(t, "Delft", result.City)
	assert.Equal(t, 1, secondary.calls)
}

func TestNewGeocoder(t *testing.T) {
	assert.Nil(t, newGeocoder(&Config{}))
	assert.IsType(t, &MapboxGeocoder{}, newGeocoder(&Config{GeocoderProvider: "mapbox", MapboxAccessToken: "pk"}))
	assert.IsType(t, &NominatimGeocoder{}, newGeocoder(&Config{GeocoderProvider: "fallback"}))
	assert.IsType(t, &FallbackGeocoder{}, newGeocoder(&Config{GeocoderProvider: "fallback", MapboxAccessToken: "pk"}))
}

func TestGeocodeIssueStoresAddress(t *testing.T) {
	app, mock := newTestApp(t)
	app.geocoder = &stubGeocoder{result: nil}
	require.NoError(t, app.geocodeIssue(context.Background(), 7, 52.37, 4.89))

	app.geocoder = &stubGeocoder{result: &GeocodeResult{Address: "Dam 1", City: "Amsterdam"}}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET address = $1, city = $2")).
		WithArgs("Dam 1", "Amsterdam", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, app.geocodeIssue(context.Background(), 7, 52.37, 4.89))
}
