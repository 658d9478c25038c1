package staging

import (
	"context"
	"sort"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/edfg"
)

// Band maps every eDFG at or above Min to Stage.
type Band struct {
	Min   float64 `json:"min"`
	Stage Stage   `json:"stage"`
}

// KDIGO GFR categories in mL/min/1.73m².
var DefaultBands = []Band{
	{Min: 90, Stage: G1},
	{Min: 60, Stage: G2},
	{Min: 45, Stage: G3a},
	{Min: 30, Stage: G3b},
	{Min: 15, Stage: G4},
	{Min: 0, Stage: G5},
}

// FromEDFG looks up the stage for an eDFG value in DefaultBands.
func FromEDFG(value float64) Stage {
	return lookup(DefaultBands, value)
}

func lookup(bands []Band, value float64) Stage {
	for _, b := range bands {
		if value >= b.Min {
			return b.Stage
		}
	}
	return G5
}

// BandClassifier is the deterministic fallback. It never fails.
type BandClassifier struct {
	bands []Band
}

func NewBandClassifier(bands []Band) *BandClassifier {
	if len(bands) == 0 {
		bands = DefaultBands
	}
	sorted := append([]Band(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min > sorted[j].Min })
	return &BandClassifier{bands: sorted}
}

func (b *BandClassifier) Name() string { return "edfg-bands" }

func (b *BandClassifier) Classify(_ context.Context, fv models.FeatureVector) (Stage, error) {
	return b.Stage(edfg.FromFeatures(fv)), nil
}

// Stage returns the band stage for a precomputed eDFG.
func (b *BandClassifier) Stage(value float64) Stage {
	return lookup(b.bands, value)
}
