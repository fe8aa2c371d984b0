package config

import (
	"os"

	"github.com/go-yaml/yaml"
	"github.com/pkg/errors"
)

type Location struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Address   string  `yaml:"address"`
}

// LoadLocations reads a YAML list of locations for seeding.
func LoadLocations(path string) ([]Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	var locations []Location
	if err := yaml.Unmarshal(data, &locations); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return locations, nil
}
