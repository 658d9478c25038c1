package srirc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ai4ckd/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// BelowBand awards Points when a value is strictly under Below.
type BelowBand struct {
	Below  float64 `yaml:"below" json:"below"`
	Points int     `yaml:"points" json:"points"`
}

// AboveBand awards Points when a value is over Above, or equal to it when
// Inclusive is set.
type AboveBand struct {
	Above     float64 `yaml:"above" json:"above"`
	Inclusive bool    `yaml:"inclusive" json:"inclusive"`
	Points    int     `yaml:"points" json:"points"`
}

// WeightTable holds every SR-IRC weight. Only the first matching band of a
// list counts.
type WeightTable struct {
	EDFG           []BelowBand    `yaml:"edfg" json:"edfg"`
	Age            []AboveBand    `yaml:"age" json:"age"`
	Hemoglobin     []BelowBand    `yaml:"hemoglobin" json:"hemoglobin"`
	Albuminuria    map[string]int `yaml:"albuminuria" json:"albuminuria"`
	Male           int            `yaml:"male" json:"male"`
	Diabetes       int            `yaml:"diabetes" json:"diabetes"`
	Hypertension   int            `yaml:"hypertension" json:"hypertension"`
	Cardiovascular int            `yaml:"cardiovascular_event" json:"cardiovascular_event"`
}

// DefaultWeights is the published SR-IRC grid, plus two points for a prior
// cardiovascular event.
func DefaultWeights() WeightTable {
	return WeightTable{
		EDFG: []BelowBand{
			{Below: 15, Points: 20},
			{Below: 30, Points: 15},
			{Below: 45, Points: 10},
			{Below: 60, Points: 5},
		},
		Age: []AboveBand{
			{Above: 75, Points: 6},
			{Above: 65, Inclusive: true, Points: 4},
			{Above: 50, Inclusive: true, Points: 2},
		},
		Hemoglobin:     []BelowBand{{Below: 11, Points: 3}},
		Albuminuria:    map[string]int{"A2": 4, "A3": 8},
		Male:           1,
		Diabetes:       3,
		Hypertension:   2,
		Cardiovascular: 2,
	}
}

func LoadWeights(path string) (WeightTable, error) {
	if path == "" {
		return DefaultWeights(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return WeightTable{}, fmt.Errorf("reading SR-IRC weights: %w", err)
	}
	var table WeightTable
	if err := yaml.Unmarshal(content, &table); err != nil {
		return WeightTable{}, fmt.Errorf("parsing SR-IRC weights: %w", err)
	}
	if err := table.Validate(); err != nil {
		return WeightTable{}, err
	}
	return table, nil
}

// Validate rejects negative weights and unknown albuminuria bands.
func (w WeightTable) Validate() error {
	check := func(name string, points int) error {
		if points < 0 {
			return fmt.Errorf("SR-IRC weight %s is negative (%d)", name, points)
		}
		return nil
	}
	for _, b := range w.EDFG {
		if err := check(fmt.Sprintf("edfg<%g", b.Below), b.Points); err != nil {
			return err
		}
	}
	for _, b := range w.Hemoglobin {
		if err := check(fmt.Sprintf("hemoglobin<%g", b.Below), b.Points); err != nil {
			return err
		}
	}
	for _, b := range w.Age {
		if err := check(fmt.Sprintf("age>%g", b.Above), b.Points); err != nil {
			return err
		}
	}
	for band, points := range w.Albuminuria {
		switch band {
		case models.AlbuminuriaNormal.String(), models.AlbuminuriaModerate.String(), models.AlbuminuriaSevere.String():
		default:
			return fmt.Errorf("SR-IRC albuminuria band %q unknown", band)
		}
		if err := check("albuminuria "+band, points); err != nil {
			return err
		}
	}
	for name, points := range map[string]int{
		"male": w.Male, "diabetes": w.Diabetes, "hypertension": w.Hypertension, "cardiovascular_event": w.Cardiovascular,
	} {
		if err := check(name, points); err != nil {
			return err
		}
	}
	return nil
}

// sorted returns a copy whose band lists are ordered so that the first match
// is the most severe one.
func (w WeightTable) sorted() WeightTable {
	out := w
	out.EDFG = append([]BelowBand(nil), w.EDFG...)
	sort.SliceStable(out.EDFG, func(i, j int) bool { return out.EDFG[i].Below < out.EDFG[j].Below })
	out.Hemoglobin = append([]BelowBand(nil), w.Hemoglobin...)
	sort.SliceStable(out.Hemoglobin, func(i, j int) bool { return out.Hemoglobin[i].Below < out.Hemoglobin[j].Below })
	out.Age = append([]AboveBand(nil), w.Age...)
	sort.SliceStable(out.Age, func(i, j int) bool { return out.Age[i].Above > out.Age[j].Above })
	out.Albuminuria = make(map[string]int, len(w.Albuminuria))
	for k, v := range w.Albuminuria {
		out.Albuminuria[k] = v
	}
	return out
}

func (b BelowBand) matches(v float64) bool { return v < b.Below }

func (b AboveBand) matches(v float64) bool {
	if b.Inclusive {
		return v >= b.Above
	}
	return v > b.Above
}
