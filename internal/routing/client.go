// Package routing is a client for an OpenRouteService-compatible directions API.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

const (
	DefaultProfile = "driving-car"
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 8 << 20
)

// Config holds the directions endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Profile string
	Timeout time.Duration
}

// Client implements tracking.RouteProvider. It never retries and never caches.
type Client struct {
	baseURL    string
	apiKey     string
	profile    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a directions client.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		profile:    cfg.Profile,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

type directionsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
	Format      string       `json:"format"`
}

// ComputeRoute requests a path from start to end. The returned path is latitude-first
// and keeps the service's point order.
func (c *Client) ComputeRoute(ctx context.Context, start, end tracking.Coordinate) (tracking.Path, error) {
	if err := start.Validate(); err != nil {
		return nil, err
	}
	if err := end.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(directionsRequest{
		Coordinates: [][2]float64{
			{start.Longitude, start.Latitude},
			{end.Longitude, end.Latitude},
		},
		Format: "geojson",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode directions request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v2/directions/%s/geojson", c.baseURL, c.profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, unavailable("failed to build directions request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json, application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("directions request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable("failed to read directions response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("directions service returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("profile", c.profile),
		)
		return nil, unavailable(fmt.Sprintf("directions service returned %d", resp.StatusCode), nil)
	}

	path, err := decodePath(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("route computed",
		zap.Stringer("start", start),
		zap.Stringer("end", end),
		zap.Int("points", len(path)),
	)
	return path, nil
}

// decodePath converts features[0].geometry.coordinates ([lon, lat] pairs) to a Path.
func decodePath(data []byte) (tracking.Path, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, unavailable("malformed directions response", err)
	}
	if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
		return nil, unavailable("directions response has no route", nil)
	}

	var points []orb.Point
	switch g := fc.Features[0].Geometry.(type) {
	case orb.LineString:
		points = g
	case orb.MultiLineString:
		for _, ls := range g {
			points = append(points, ls...)
		}
	default:
		return nil, unavailable(fmt.Sprintf("unexpected route geometry %s", g.GeoJSONType()), nil)
	}
	if len(points) == 0 {
		return nil, unavailable("directions response has an empty route", nil)
	}

	path := make(tracking.Path, 0, len(points))
	for _, p := range points {
		coord := tracking.Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
		if err := coord.Validate(); err != nil {
			return nil, unavailable("directions response contains an out-of-range point", err)
		}
		path = append(path, coord)
	}
	return path, nil
}

func unavailable(msg string, err error) error {
	return tracking.NewError(tracking.KindRouteUnavailable, msg, err)
}
