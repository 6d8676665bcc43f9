package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	mapboxReverseURL    = "https://api.mapbox.com/search/geocode/v6/reverse"
	nominatimReverseURL = "https://nominatim.openstreetmap.org/reverse"
	nominatimMinGap     = time.Second
	geocoderHTTPTimeout = 10 * time.Second
)

// GeocodeResult is the address found for a point.
type GeocodeResult struct {
	Address    string
	City       string
	PostalCode string
}

// Geocoder looks up the address of a point. A nil result means nothing was found.
type Geocoder interface {
	Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

// newGeocoder builds the configured provider, or nil when geocoding is off.
func newGeocoder(cfg *Config) Geocoder {
	client := &http.Client{Timeout: geocoderHTTPTimeout}
	userAgent := "civicreport/1.0"
	if cfg.PublicBaseURL != "" {
		userAgent += " (+" + cfg.PublicBaseURL + ")"
	}

	switch cfg.GeocoderProvider {
	case "mapbox":
		return &MapboxGeocoder{AccessToken: cfg.MapboxAccessToken, Client: client}
	case "nominatim":
		return &NominatimGeocoder{UserAgent: userAgent, Client: client}
	case "fallback":
		nominatim := &NominatimGeocoder{UserAgent: userAgent, Client: client}
		if cfg.MapboxAccessToken == "" {
			return nominatim
		}
		return &FallbackGeocoder{
			Primary:   &MapboxGeocoder{AccessToken: cfg.MapboxAccessToken, Client: client},
			Secondary: nominatim,
		}
	}
	return nil
}

// geocodeIssue stores the reverse-geocoded address of an issue.
func (a *App) geocodeIssue(ctx context.Context, issueID int, lat, lng float64) error {
	result, err := a.geocoder.Geocode(ctx, lat, lng)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	a.log.Info("geocoded issue", "issue_id", issueID, "address", result.Address, "city", result.City)
	return a.updateIssueAddress(ctx, issueID, result)
}

type MapboxGeocoder struct {
	AccessToken string
	Client      *http.Client
	// BaseURL overrides the reverse endpoint.
	BaseURL string
}

func (g *MapboxGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if g.AccessToken == "" {
		return nil, errors.New("mapbox access token missing")
	}
	endpoint := g.BaseURL
	if endpoint == "" {
		endpoint = mapboxReverseURL
	}
	params := url.Values{}
	params.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("access_token", g.AccessToken)
	params.Set("types", "address")
	params.Set("limit", "1")

	var data struct {
		Features []struct {
			Properties struct {
				FullAddress string `json:"full_address"`
				Context     struct {
					Place struct {
						Name string `json:"name"`
					} `json:"place"`
					Postcode struct {
						Name string `json:"name"`
					} `json:"postcode"`
				} `json:"context"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := getJSON(ctx, g.Client, endpoint+"?"+params.Encode(), nil, &data); err != nil {
		return nil, fmt.Errorf("mapbox: %w", err)
	}
	if len(data.Features) == 0 {
		return nil, nil
	}

	feature := data.Features[0].Properties
	return &GeocodeResult{
		Address:    feature.FullAddress,
		City:       feature.Context.Place.Name,
		PostalCode: feature.Context.Postcode.Name,
	}, nil
}

// NominatimGeocoder uses OpenStreetMap Nominatim, which requires a
// User-Agent and allows one request per second.
type NominatimGeocoder struct {
	UserAgent string
	Client    *http.Client
	BaseURL   string

	mu       sync.Mutex
	lastCall time.Time
}

func (g *NominatimGeocoder) throttle(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if wait := nominatimMinGap - time.Since(g.lastCall); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastCall = time.Now()
	return nil
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if err := g.throttle(ctx); err != nil {
		return nil, err
	}
	endpoint := g.BaseURL
	if endpoint == "" {
		endpoint = nominatimReverseURL
	}
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("addressdetails", "1")

	var data struct {
		Address struct {
			Road        string `json:"road"`
			HouseNumber string `json:"house_number"`
			City        string `json:"city"`
			Town        string `json:"town"`
			Village     string `json:"village"`
			Postcode    string `json:"postcode"`
		} `json:"address"`
	}
	headers := http.Header{"User-Agent": []string{g.UserAgent}}
	if err := getJSON(ctx, g.Client, endpoint+"?"+params.Encode(), headers, &data); err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}

	city := data.Address.City
	if city == "" {
		city = data.Address.Town
	}
	if city == "" {
		city = data.Address.Village
	}
	address := data.Address.Road
	if data.Address.HouseNumber != "" {
		address = fmt.Sprintf("%s %s", address, data.Address.HouseNumber)
	}
	if address == "" && city == "" {
		return nil, nil
	}
	return &GeocodeResult{Address: address, City: city, PostalCode: data.Address.Postcode}, nil
}

// FallbackGeocoder asks Secondary whenever Primary fails or finds nothing.
type FallbackGeocoder struct {
	Primary   Geocoder
	Secondary Geocoder
}

func (g *FallbackGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	result, err := g.Primary.Geocode(ctx, lat, lng)
	if err != nil || result == nil {
		return g.Secondary.Geocode(ctx, lat, lng)
	}
	return result, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, headers http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
