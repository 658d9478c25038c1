// Package edfg estimates glomerular filtration from demographic and
// creatinine inputs. Inputs are assumed validated by the normalizer.
package edfg

import (
	"math"

	"github.com/ai4ckd/platform/pkg/common/models"
)

// CKD-EPI 2021 race-free coefficients.
const (
	epiConstant   = 142.0
	epiAgeBase    = 0.9938
	epiUpperPower = -1.200

	kappaFemale    = 0.7
	kappaMale      = 0.9
	alphaFemale    = -0.241
	alphaMale      = -0.302
	femaleModifier = 1.012
)

// Estimate returns eDFG in mL/min/1.73m² using CKD-EPI 2021.
func Estimate(age float64, sex models.Sex, creatinineMgDL float64) float64 {
	kappa, alpha, modifier := kappaMale, alphaMale, 1.0
	if sex == models.SexFemale {
		kappa, alpha, modifier = kappaFemale, alphaFemale, femaleModifier
	}
	ratio := creatinineMgDL / kappa
	return epiConstant *
		math.Pow(math.Min(ratio, 1), alpha) *
		math.Pow(math.Max(ratio, 1), epiUpperPower) *
		math.Pow(epiAgeBase, age) *
		modifier
}

// FromFeatures is Estimate applied to a normalized vector.
func FromFeatures(fv models.FeatureVector) float64 {
	return Estimate(fv.Age, fv.Sex, fv.CreatinineMgDL)
}

// CockcroftGault returns creatinine clearance in mL/min.
func CockcroftGault(age, weightKg float64, sex models.Sex, creatinineMgDL float64) float64 {
	clearance := ((140 - age) * weightKg) / (72 * creatinineMgDL)
	if sex == models.SexFemale {
		clearance *= 0.85
	}
	return clearance
}

func BMI(weightKg, heightM float64) float64 {
	return weightKg / (heightM * heightM)
}

// Indicators groups the secondary renal indicators reported with a score.
type Indicators struct {
	EDFG      float64 `json:"edfg"`
	Cockcroft float64 `json:"cockcroft"`
	BMI       float64 `json:"bmi"`
}

func Compute(fv models.FeatureVector) Indicators {
	return Indicators{
		EDFG:      round2(FromFeatures(fv)),
		Cockcroft: round2(CockcroftGault(fv.Age, fv.WeightKg, fv.Sex, fv.CreatinineMgDL)),
		BMI:       round2(BMI(fv.WeightKg, fv.HeightM)),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
