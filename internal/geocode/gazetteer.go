// Package geocode resolves destination searches into coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"gopkg.in/yaml.v3"
)

// ErrNoMatch is returned when a query resolves to no place.
var ErrNoMatch = errors.New("no place matches the query")

// Place is a named destination.
type Place struct {
	Name      string   `yaml:"name"`
	Aliases   []string `yaml:"aliases"`
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
}

type gazetteerFile struct {
	Places []Place `yaml:"places"`
}

// Gazetteer is a static, ordered table of known places.
type Gazetteer struct {
	places []Place
}

// NewGazetteer validates places and returns a Gazetteer that searches them in order.
func NewGazetteer(places []Place) (*Gazetteer, error) {
	for _, p := range places {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("gazetteer place without a name")
		}
		if err := (tracking.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}).Validate(); err != nil {
			return nil, fmt.Errorf("gazetteer place %q: %w", p.Name, err)
		}
	}
	return &Gazetteer{places: places}, nil
}

// LoadGazetteer reads a YAML file of the form `places: [{name, aliases, latitude, longitude}]`.
func LoadGazetteer(path string) (*Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gazetteer: %w", err)
	}
	var f gazetteerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse gazetteer: %w", err)
	}
	return NewGazetteer(f.Places)
}

// Geocode returns the first place whose name or alias contains the query, case-insensitively.
func (g *Gazetteer) Geocode(ctx context.Context, query string) (tracking.Coordinate, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return tracking.Coordinate{}, ErrNoMatch
	}
	for _, p := range g.places {
		if matches(p, q) {
			return tracking.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}, nil
		}
	}
	return tracking.Coordinate{}, ErrNoMatch
}

func matches(p Place, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) {
		return true
	}
	for _, a := range p.Aliases {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	return false
}
