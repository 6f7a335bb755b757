// Package geo names visitor coordinates through a reverse geocoder.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/metrics"
)

const (
	defaultReverseURL     = "https://nominatim.openstreetmap.org/reverse"
	defaultReverseTimeout = 5 * time.Second
	defaultTimeout        = 15 * time.Second
	defaultUserAgent      = "go-connect/1.0"
)

// Config holds the geo lookups configuration.
type Config struct {
	ReverseURL     string
	UserAgent      string
	ReverseTimeout time.Duration
	HTTPClient     *http.Client
}

// Describer implements connect.LocationDescriber
type Describer struct {
	config     Config
	httpClient *http.Client
}

var _ connect.LocationDescriber = (*Describer)(nil)

// New creates a describer.
func New(cfg Config) *Describer {
	if cfg.ReverseURL == "" {
		cfg.ReverseURL = defaultReverseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ReverseTimeout <= 0 {
		cfg.ReverseTimeout = defaultReverseTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Describer{config: cfg, httpClient: client}
}

type address struct {
	Suburb       string `json:"suburb"`
	CityDistrict string `json:"city_district"`
	City         string `json:"city"`
}

type reverseResponse struct {
	Address address `json:"address"`
}

// Describe names the coordinates. The caller IP is taken from the request.
func (d *Describer) Describe(ctx context.Context, lat, lon float64) (connect.LocationData, error) {
	name, err := d.reverse(ctx, lat, lon)
	if err != nil {
		return connect.LocationData{}, err
	}
	return connect.LocationData{
		Latitude:     lat,
		Longitude:    lon,
		LocationName: name,
	}, nil
}

// locationName joins the suburb, city district and city that are present
func locationName(a address) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Suburb, a.CityDistrict, a.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return connect.UnknownLocation
	}
	return strings.Join(parts, ", ")
}

func (d *Describer) reverse(ctx context.Context, lat, lon float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.ReverseTimeout)
	defer cancel()

	params := url.Values{
		"format":         {"json"},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"zoom":           {"18"},
		"addressdetails": {"1"},
	}

	res := reverseResponse{}
	if err := d.getJSON(ctx, "reverse", d.config.ReverseURL+"?"+params.Encode(), &res); err != nil {
		return "", err
	}
	return locationName(res.Address), nil
}

func (d *Describer) getJSON(ctx context.Context, operation, target string, out any) error {
	timer := prometheus.NewTimer(metrics.UpstreamDuration.WithLabelValues("geo", operation))
	defer timer.ObserveDuration()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build geo request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "Failed to get location details").
			WithMetadata(map[string]any{"operation": operation})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read geo response")
	}

	if resp.StatusCode != http.StatusOK {
		return goerrors.New(fmt.Sprintf("geo %s returned status %d", operation, resp.StatusCode), goerrors.CategoryOperation)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode geo response")
	}
	return nil
}
