// Package postal resolves Indian pin codes through the public postal API.
package postal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/metrics"
)

const (
	defaultBaseURL = "https://api.postalpincode.in"
	defaultTimeout = 15 * time.Second
	statusSuccess  = "Success"
)

// Config holds the postal client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements connect.PostalLookup
type Client struct {
	config     Config
	httpClient *http.Client
}

var _ connect.PostalLookup = (*Client)(nil)

// New creates a postal client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{config: cfg, httpClient: client}
}

type postOffice struct {
	Name     string `json:"Name"`
	District string `json:"District"`
	State    string `json:"State"`
	Block    string `json:"Block"`
}

type lookupResponse struct {
	Status     string       `json:"Status"`
	Message    string       `json:"Message"`
	PostOffice []postOffice `json:"PostOffice"`
}

// LookupPincode returns the district, state and block of the first post
// office and every post office name as the selectable areas
func (c *Client) LookupPincode(ctx context.Context, code string) (connect.PostalResult, error) {
	timer := prometheus.NewTimer(metrics.UpstreamDuration.WithLabelValues("postal", "pincode"))
	defer timer.ObserveDuration()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/pincode/"+url.PathEscape(code), nil)
	if err != nil {
		return connect.PostalResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build pincode request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connect.PostalResult{}, goerrors.Wrap(err, goerrors.CategoryOperation, "pincode request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return connect.PostalResult{}, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read pincode response")
	}

	if resp.StatusCode != http.StatusOK {
		return connect.PostalResult{}, goerrors.New("pincode lookup returned an error status", goerrors.CategoryOperation).
			WithMetadata(map[string]any{"status": resp.StatusCode, "pincode": code})
	}

	answers := []lookupResponse{}
	if err := json.Unmarshal(body, &answers); err != nil {
		return connect.PostalResult{}, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode pincode response")
	}

	if len(answers) == 0 || answers[0].Status != statusSuccess || len(answers[0].PostOffice) == 0 {
		return connect.PostalResult{Found: false}, nil
	}

	offices := answers[0].PostOffice
	first := offices[0]
	areas := make([]string, 0, len(offices))
	for _, po := range offices {
		areas = append(areas, po.Name)
	}

	return connect.PostalResult{
		Found: true,
		City:  first.District,
		State: first.State,
		Taluk: first.Block,
		Areas: areas,
	}, nil
}
