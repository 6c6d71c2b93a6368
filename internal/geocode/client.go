package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// Client is a forward geocoder for an OpenRouteService/Pelias-compatible search API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a geocoding client.
func NewClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Geocode returns the best match's coordinate. Transport and decoding failures are
// route_unavailable errors.
func (c *Client) Geocode(ctx context.Context, query string) (tracking.Coordinate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return tracking.Coordinate{}, ErrNoMatch
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("text", query)
	params.Set("size", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/geocode/search?"+params.Encode(), nil)
	if err != nil {
		return tracking.Coordinate{}, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tracking.Coordinate{}, tracking.NewError(tracking.KindRouteUnavailable, "geocode request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("geocoder returned error status", zap.Int("status", resp.StatusCode))
		return tracking.Coordinate{}, tracking.NewError(tracking.KindRouteUnavailable, fmt.Sprintf("geocoder returned %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tracking.Coordinate{}, tracking.NewError(tracking.KindRouteUnavailable, "failed to read geocode response", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return tracking.Coordinate{}, tracking.NewError(tracking.KindRouteUnavailable, "malformed geocode response", err)
	}
	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		coord := tracking.Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
		if coord.Validate() != nil {
			continue
		}
		return coord, nil
	}
	return tracking.Coordinate{}, ErrNoMatch
}
