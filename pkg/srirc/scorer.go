// Package srirc computes the SR-IRC progression score, a weighted sum of
// clinical risk factors, and its risk tier.
package srirc

import (
	"fmt"
	"sort"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/edfg"
)

// Factor names.
const (
	FactorEDFG           = "edfg"
	FactorAge            = "age"
	FactorMale           = "male"
	FactorAlbuminuria    = "albuminuria"
	FactorDiabetes       = "diabetes"
	FactorHypertension   = "hypertension"
	FactorAnemia         = "anemia"
	FactorCardiovascular = "cardiovascular_event"
)

type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

type Result struct {
	Score   int      `json:"score"`
	Tier    Tier     `json:"tier"`
	Factors []Factor `json:"factors"`
}

type Scorer struct {
	weights WeightTable
	rules   []rule
}

// rule evaluates one factor independently of the others.
type rule func(in input) (Factor, bool)

type input struct {
	fv   models.FeatureVector
	edfg float64
}

func NewScorer(weights WeightTable) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	w := weights.sorted()
	s := &Scorer{weights: w}
	s.rules = []rule{
		s.edfgRule, s.ageRule, s.maleRule, s.albuminuriaRule,
		s.diabetesRule, s.hypertensionRule, s.anemiaRule, s.cardiovascularRule,
	}
	return s, nil
}

func (s *Scorer) Weights() WeightTable { return s.weights }

// Score computes the eDFG itself.
func (s *Scorer) Score(fv models.FeatureVector) Result {
	return s.ScoreWithEDFG(fv, edfg.FromFeatures(fv))
}

// ScoreWithEDFG scores with a precomputed eDFG.
func (s *Scorer) ScoreWithEDFG(fv models.FeatureVector, gfr float64) Result {
	in := input{fv: fv, edfg: gfr}
	res := Result{Factors: []Factor{}}
	for _, r := range s.rules {
		f, ok := r(in)
		if !ok || f.Points == 0 {
			continue
		}
		res.Score += f.Points
		res.Factors = append(res.Factors, f)
	}
	sort.Slice(res.Factors, func(i, j int) bool { return res.Factors[i].Name < res.Factors[j].Name })
	res.Tier = TierOf(res.Score)
	return res
}

func (s *Scorer) edfgRule(in input) (Factor, bool) {
	for _, b := range s.weights.EDFG {
		if b.matches(in.edfg) {
			return Factor{Name: FactorEDFG, Points: b.Points, Detail: fmt.Sprintf("eDFG %.1f < %g", in.edfg, b.Below)}, true
		}
	}
	return Factor{}, false
}

func (s *Scorer) ageRule(in input) (Factor, bool) {
	for _, b := range s.weights.Age {
		if b.matches(in.fv.Age) {
			return Factor{Name: FactorAge, Points: b.Points, Detail: fmt.Sprintf("age %g", in.fv.Age)}, true
		}
	}
	return Factor{}, false
}

func (s *Scorer) maleRule(in input) (Factor, bool) {
	return Factor{Name: FactorMale, Points: s.weights.Male}, in.fv.Male()
}

func (s *Scorer) albuminuriaRule(in input) (Factor, bool) {
	band := in.fv.Albuminuria.String()
	points, ok := s.weights.Albuminuria[band]
	return Factor{Name: FactorAlbuminuria, Points: points, Detail: band}, ok
}

func (s *Scorer) diabetesRule(in input) (Factor, bool) {
	return Factor{Name: FactorDiabetes, Points: s.weights.Diabetes}, in.fv.Diabetes
}

func (s *Scorer) hypertensionRule(in input) (Factor, bool) {
	return Factor{Name: FactorHypertension, Points: s.weights.Hypertension}, in.fv.Hypertension
}

func (s *Scorer) anemiaRule(in input) (Factor, bool) {
	for _, b := range s.weights.Hemoglobin {
		if b.matches(in.fv.Hemoglobin) {
			return Factor{Name: FactorAnemia, Points: b.Points, Detail: fmt.Sprintf("Hb %g g/dL", in.fv.Hemoglobin)}, true
		}
	}
	return Factor{}, false
}

func (s *Scorer) cardiovascularRule(in input) (Factor, bool) {
	return Factor{Name: FactorCardiovascular, Points: s.weights.Cardiovascular}, in.fv.CardiovascularEvent
}
