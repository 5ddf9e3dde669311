package correlation

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topology is the static service-adjacency table the correlation engine
// consults for dependency scoring. Dependency strength is graded per pair
// in [0,1].
type Topology struct {
	// Dependencies maps a service to the services it depends on, with a
	// per-pair strength
	Dependencies map[string]map[string]float64 `yaml:"dependencies"`
}

// LoadTopology reads the service-dependency table from a YAML file. A
// missing file yields an empty topology, not an error: dependency scoring
// simply never matches.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Topology{Dependencies: map[string]map[string]float64{}}, nil
		}
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing topology: %w", err)
	}
	if t.Dependencies == nil {
		t.Dependencies = map[string]map[string]float64{}
	}
	return &t, nil
}

// DependencyStrength returns the strength of the dependency between two
// services in either direction, or 0 when unrelated.
func (t *Topology) DependencyStrength(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if deps, ok := t.Dependencies[a]; ok {
		if s, ok := deps[b]; ok {
			return s
		}
	}
	if deps, ok := t.Dependencies[b]; ok {
		if s, ok := deps[a]; ok {
			return s
		}
	}
	return 0
}

var segmentSuffix = regexp.MustCompile(`[-_]?\d+$`)

// NetworkSegment derives a network-segment key from a hostname by
// stripping trailing instance digits: "db-01" and "db-02" share segment
// "db"; "web1.eu" keeps only its first label before stripping.
func NetworkSegment(host string) string {
	if host == "" {
		return ""
	}
	label := host
	if i := strings.IndexByte(host, '.'); i > 0 {
		label = host[:i]
	}
	return segmentSuffix.ReplaceAllString(strings.ToLower(label), "")
}
