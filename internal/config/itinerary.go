package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fortressi/routingslip"
	"gopkg.in/yaml.v3"
)

// ItineraryFile is the YAML description of a routing slip:
//
//	variables:
//	  order: o-1
//	activities:
//	  - name: reserve
//	    arguments:
//	      seats: 2
type ItineraryFile struct {
	Variables  map[string]any `yaml:"variables"`
	Activities []ActivityFile `yaml:"activities"`
}

// ActivityFile is one itinerary entry.
type ActivityFile struct {
	Name      string         `yaml:"name"`
	Address   string         `yaml:"address"`
	Arguments map[string]any `yaml:"arguments"`
}

// LoadItinerary reads an itinerary file.
func LoadItinerary(path string) (ItineraryFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return ItineraryFile{}, fmt.Errorf("open itinerary: %w", err)
	}
	defer f.Close()
	return ParseItinerary(f)
}

// ParseItinerary decodes an itinerary. Unknown fields are rejected.
func ParseItinerary(r io.Reader) (ItineraryFile, error) {
	var file ItineraryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return file, nil
		}
		return ItineraryFile{}, fmt.Errorf("parse itinerary: %w", err)
	}
	return file, nil
}

// Builder returns a slip builder holding the file's activities and
// variables. Problems surface from Build.
func (f ItineraryFile) Builder(registry *routingslip.ActivityRegistry) *routingslip.RoutingSlipBuilder {
	b := routingslip.NewRoutingSlipBuilder(registry)
	for _, activity := range f.Activities {
		b.AddActivityAt(routingslip.ActivityName(activity.Name), activity.Address, activity.Arguments)
	}
	b.AddVariables(f.Variables)
	return b
}
