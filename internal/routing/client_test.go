package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	start = tracking.Coordinate{Latitude: 37.0, Longitude: -122.0}
	end   = tracking.Coordinate{Latitude: 37.1, Longitude: -122.1}
)

const routeBody = `{
  "type": "FeatureCollection",
  "bbox": [-122.1, 37.0, -122.0, 37.1],
  "features": [{
    "type": "Feature",
    "properties": {"summary": {"distance": 14210.3, "duration": 1120.4}},
    "geometry": {
      "type": "LineString",
      "coordinates": [[-122.0, 37.0], [-122.05, 37.05], [-122.1, 37.1]]
    }
  }],
  "metadata": {"service": "routing"}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "test-key", Timeout: 200 * time.Millisecond}, srv.Client(), zap.NewNop())
	return c, &calls
}

func TestComputeRoute_Success(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/directions/driving-car/geojson", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Coordinates [][]float64 `json:"coordinates"`
			Format      string      `json:"format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, [][]float64{{-122.0, 37.0}, {-122.1, 37.1}}, body.Coordinates)
		assert.Equal(t, "geojson", body.Format)

		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(routeBody))
	})

	path, err := c.ComputeRoute(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, tracking.Path{
		{Latitude: 37.0, Longitude: -122.0},
		{Latitude: 37.05, Longitude: -122.05},
		{Latitude: 37.1, Longitude: -122.1},
	}, path)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestComputeRoute_InvalidInputMakesNoRequest(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(routeBody))
	})

	_, err := c.ComputeRoute(context.Background(), tracking.Coordinate{Latitude: -95}, end)
	assert.True(t, errors.Is(err, tracking.ErrInvalidCoordinate))

	_, err = c.ComputeRoute(context.Background(), start, tracking.Coordinate{Longitude: 190})
	assert.True(t, errors.Is(err, tracking.ErrInvalidCoordinate))

	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestComputeRoute_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"quota exceeded", http.StatusForbidden, `{"error":"quota"}`},
		{"malformed body", http.StatusOK, `{"type":"FeatureCollection","features":[`},
		{"not geojson", http.StatusOK, `[]`},
		{"no features", http.StatusOK, `{"type":"FeatureCollection","features":[]}`},
		{"empty coordinates", http.StatusOK, `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[]}}]}`},
		{"point geometry", http.StatusOK, `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`},
		{"out of range point", http.StatusOK, `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[-122,37],[200,95]]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			path, err := c.ComputeRoute(context.Background(), start, end)
			require.Error(t, err)
			assert.Nil(t, path)
			assert.True(t, errors.Is(err, tracking.ErrRouteUnavailable), "got %v", err)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no retry")
		})
	}
}

func TestComputeRoute_TimeoutIsRouteUnavailable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := c.ComputeRoute(context.Background(), start, end)
	assert.True(t, errors.Is(err, tracking.ErrRouteUnavailable))
}

func TestComputeRoute_MultiLineStringIsFlattened(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"MultiLineString","coordinates":[[[-122,37],[-122.05,37.05]],[[-122.05,37.05],[-122.1,37.1]]]}}]}`))
	})

	path, err := c.ComputeRoute(context.Background(), start, end)
	require.NoError(t, err)
	assert.Len(t, path, 4)
	assert.Equal(t, tracking.Coordinate{Latitude: 37.1, Longitude: -122.1}, path[3])
}
