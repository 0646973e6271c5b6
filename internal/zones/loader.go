package zones

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smukkama/agv-rtls/internal/model"
)

type zoneFile struct {
	Zones []zoneSpec `yaml:"zones"`
}

type zoneSpec struct {
	ID       string       `yaml:"zone_id"`
	Name     string       `yaml:"name"`
	Category string       `yaml:"category"`
	Type     string       `yaml:"zone_type"`
	MaxSpeed float64      `yaml:"max_speed_mps"`
	MaxAGVs  int          `yaml:"max_agvs"`
	Priority int          `yaml:"priority"`
	Active   *bool        `yaml:"active"`
	Vertices [][2]float64 `yaml:"vertices"`
}

// ParseYAML decodes a zone definition document:
//
//	zones:
//	  - zone_id: Z-DOCK
//	    zone_type: STAGING
//	    max_agvs: 4
//	    vertices: [[0, 0], [10, 0], [10, 5], [0, 5]]
func ParseYAML(data []byte) ([]model.Zone, error) {
	var f zoneFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse zone file: %w", err)
	}
	out := make([]model.Zone, 0, len(f.Zones))
	for _, s := range f.Zones {
		zt, err := model.ParseZoneType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", s.ID, err)
		}
		z := model.Zone{
			ID:       s.ID,
			Name:     s.Name,
			Category: s.Category,
			Type:     zt,
			MaxSpeed: s.MaxSpeed,
			MaxAGVs:  s.MaxAGVs,
			Priority: s.Priority,
			Active:   s.Active == nil || *s.Active,
		}
		if z.Name == "" {
			z.Name = z.ID
		}
		for _, v := range s.Vertices {
			z.Vertices = append(z.Vertices, model.Point{X: v[0], Y: v[1]})
		}
		out = append(out, z)
	}
	return out, nil
}

// FileSource loads zones from a YAML file on every call.
type FileSource struct {
	Path string
}

func (f FileSource) LoadZones(ctx context.Context) ([]model.Zone, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	return ParseYAML(data)
}

// LoadFile reads and parses a zone definition file.
func LoadFile(path string) ([]model.Zone, error) {
	return FileSource{Path: path}.LoadZones(context.Background())
}
