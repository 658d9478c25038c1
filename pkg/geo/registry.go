// Package geo holds the administrative region reference data and the
// per-region aggregates rendered on the screening map.
package geo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ai4ckd/platform/pkg/common/textnorm"
	"gopkg.in/yaml.v3"
)

type Region struct {
	ID         string        `yaml:"id" json:"id"`
	Name       string        `yaml:"name" json:"name"`
	Capital    string        `yaml:"capital" json:"capital"`
	Zone       string        `yaml:"zone" json:"zone,omitempty"`
	Population int64         `yaml:"population" json:"population"`
	Center     [2]float64    `yaml:"center" json:"center"`
	Bounds     [2][2]float64 `yaml:"bounds" json:"bounds"`
	Aliases    []string      `yaml:"aliases" json:"aliases,omitempty"`
}

// Registry is the immutable set of known regions, loaded once at startup.
type Registry struct {
	regions []Region
	byID    map[string]int
	keys    map[string]string
}

type registryFile struct {
	Regions []Region `yaml:"regions"`
}

func NewRegistry(regions []Region) (*Registry, error) {
	if len(regions) == 0 {
		return nil, fmt.Errorf("region registry empty")
	}
	r := &Registry{
		regions: make([]Region, len(regions)),
		byID:    make(map[string]int, len(regions)),
		keys:    make(map[string]string),
	}
	copy(r.regions, regions)
	sort.Slice(r.regions, func(i, j int) bool { return r.regions[i].ID < r.regions[j].ID })

	for i, region := range r.regions {
		if strings.TrimSpace(region.ID) == "" {
			return nil, fmt.Errorf("region %q has no id", region.Name)
		}
		if _, dup := r.byID[region.ID]; dup {
			return nil, fmt.Errorf("duplicate region id %s", region.ID)
		}
		r.byID[region.ID] = i
		for _, key := range append([]string{region.ID, region.Name}, region.Aliases...) {
			folded := textnorm.Fold(key)
			if folded == "" {
				continue
			}
			if other, taken := r.keys[folded]; taken && other != region.ID {
				return nil, fmt.Errorf("region key %q maps to both %s and %s", key, other, region.ID)
			}
			r.keys[folded] = region.ID
		}
	}
	return r, nil
}

// LoadRegistry reads a YAML or JSON region file; an empty path yields the
// built-in Benin departments.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading regions: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parsing regions: %w", err)
	}
	return NewRegistry(file.Regions)
}

// Resolve maps an id, name or alias (any case, with or without accents) to a
// region id.
func (r *Registry) Resolve(nameOrID string) (string, bool) {
	id, ok := r.keys[textnorm.Fold(nameOrID)]
	return id, ok
}

func (r *Registry) Get(id string) (Region, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Region{}, false
	}
	return r.regions[i], true
}

// Lookup resolves then returns the region.
func (r *Registry) Lookup(nameOrID string) (Region, bool) {
	id, ok := r.Resolve(nameOrID)
	if !ok {
		return Region{}, false
	}
	return r.Get(id)
}

// Regions returns every region ordered by id.
func (r *Registry) Regions() []Region {
	out := make([]Region, len(r.regions))
	copy(out, r.regions)
	return out
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.regions))
	for i, region := range r.regions {
		out[i] = region.ID
	}
	return out
}

// Search matches the query against names and capitals. Prefix matches come
// before substring matches.
func (r *Registry) Search(query string, limit int) []Region {
	q := textnorm.Fold(query)
	if q == "" {
		return nil
	}
	var prefix, contains []Region
	for _, region := range r.regions {
		name, capital := textnorm.Fold(region.Name), textnorm.Fold(region.Capital)
		switch {
		case strings.HasPrefix(name, q) || strings.HasPrefix(capital, q) || textnorm.Fold(region.ID) == q:
			prefix = append(prefix, region)
		case strings.Contains(name, q) || strings.Contains(capital, q):
			contains = append(contains, region)
		}
	}
	out := append(prefix, contains...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Zones groups region ids by zone.
func (r *Registry) Zones() map[string][]string {
	zones := make(map[string][]string)
	for _, region := range r.regions {
		if region.Zone == "" {
			continue
		}
		zones[region.Zone] = append(zones[region.Zone], region.ID)
	}
	return zones
}

// DefaultRegistry returns the twelve departments of Benin keyed by ISO 3166-2
// code.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(beninDepartments)
	if err != nil {
		panic(err)
	}
	return r
}

var beninDepartments = []Region{
	{ID: "BJ-AL", Name: "Alibori", Capital: "Kandi", Zone: "Nord", Population: 1516563,
		Center: [2]float64{10.691, 2.838}, Bounds: [2][2]float64{{9.8, 1.5}, {12.4, 3.7}}},
	{ID: "BJ-AK", Name: "Atacora", Capital: "Natitingou", Zone: "Nord", Population: 769337,
		Center: [2]float64{10.514, 2.291}, Bounds: [2][2]float64{{9.2, 1.3}, {11.9, 3.4}}},
	{ID: "BJ-AQ", Name: "Atlantique", Capital: "Ouidah", Zone: "Sud", Population: 1570670,
		Center: [2]float64{6.902, 2.078}, Bounds: [2][2]float64{{6.2, 1.9}, {7.5, 2.5}}},
	{ID: "BJ-BO", Name: "Borgou", Capital: "Parakou", Zone: "Nord", Population: 1307057,
		Center: [2]float64{9.692, 2.838}, Bounds: [2][2]float64{{8.4, 1.9}, {11.7, 3.8}}},
	{ID: "BJ-CO", Name: "Collines", Capital: "Savalou", Zone: "Centre", Population: 726432,
		Center: [2]float64{7.656, 2.189}, Bounds: [2][2]float64{{6.5, 1.9}, {9.0, 2.8}}},
	{ID: "BJ-KO", Name: "Couffo", Capital: "Aplahoué", Zone: "Sud", Population: 745318,
		Center: [2]float64{7.524, 1.643}, Bounds: [2][2]float64{{6.2, 1.2}, {8.9, 2.2}}},
	{ID: "BJ-DO", Name: "Donga", Capital: "Djougou", Zone: "Nord", Population: 543130,
		Center: [2]float64{9.973, 2.118}, Bounds: [2][2]float64{{8.6, 1.5}, {11.3, 2.8}}},
	{ID: "BJ-LI", Name: "Littoral", Capital: "Cotonou", Zone: "Sud", Population: 2800054,
		Center: [2]float64{6.302, 2.330}, Bounds: [2][2]float64{{6.2, 2.2}, {6.5, 2.5}}},
	{ID: "BJ-MO", Name: "Mono", Capital: "Lokossa", Zone: "Sud", Population: 497246,
		Center: [2]float64{6.729, 1.610}, Bounds: [2][2]float64{{6.1, 1.2}, {7.9, 2.3}}},
	{ID: "BJ-OU", Name: "Ouémé", Capital: "Porto-Novo", Zone: "Sud", Population: 1102227,
		Center: [2]float64{6.339, 2.547}, Bounds: [2][2]float64{{6.2, 2.2}, {6.7, 3.0}}},
	{ID: "BJ-PL", Name: "Plateau", Capital: "Sakété", Zone: "Centre", Population: 445580,
		Center: [2]float64{7.453, 2.401}, Bounds: [2][2]float64{{6.3, 2.0}, {8.1, 2.8}}},
	{ID: "BJ-ZO", Name: "Zou", Capital: "Abomey", Zone: "Centre", Population: 851146,
		Center: [2]float64{7.651, 1.633}, Bounds: [2][2]float64{{6.1, 1.2}, {9.2, 2.5}}},
}
