package staging

import (
	"math"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/edfg"
)

// FeatureNames is the ordered input contract of the stage model.
var FeatureNames = []string{
	"eDFG_CKD_EPI",
	"Clairance_Cockcroft",
	"Gap_Formules",
	"Score_Echo_Total",
	"Ratio_K_Hb",
	"Ratio_Uree_Creat",
	"Score_Surcharge_Bio",
	"Syndrome_Anemique",
	"Pression_Pulsee",
	"IMC",
	"Age",
	"Interaction_eDFG_Hb",
	"eDFG_Norm_Age",
	"Creat_Norm_Age",
	"Score_Anemie_Renale",
	"Interaction_IMC_eDFG",
}

// Intake carries neither ultrasound nor blood pressure, so these features
// are held at the training population medians.
const (
	echoScoreMedian     = 2.0
	pulsePressureMedian = 45.0
)

// Vector is one row in FeatureNames order.
type Vector struct {
	Names  []string  `json:"feature_names"`
	Values []float64 `json:"features"`
}

// Get returns the value of a named feature.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name && i < len(v.Values) {
			return v.Values[i], true
		}
	}
	return 0, false
}

// BuildVector derives the model features from a normalized record.
func BuildVector(fv models.FeatureVector) Vector {
	gfr := edfg.FromFeatures(fv)
	cockcroft := edfg.CockcroftGault(fv.Age, fv.WeightKg, fv.Sex, fv.CreatinineMgDL)
	bmi := edfg.BMI(fv.WeightKg, fv.HeightM)
	hb := fv.Hemoglobin + 0.1

	overload := 0.0
	if fv.Potassium > 5.0 {
		overload++
	}
	if fv.UreaGL > 0.5 {
		overload++
	}
	anemic := 0.0
	if fv.Hemoglobin < 12 {
		anemic = 1
	}

	return Vector{
		Names: FeatureNames,
		Values: []float64{
			gfr,
			cockcroft,
			math.Abs(gfr - cockcroft),
			echoScoreMedian,
			fv.Potassium / hb,
			fv.UreaGL / (fv.CreatinineMgDL + 0.1),
			overload,
			anemic,
			pulsePressureMedian,
			bmi,
			fv.Age,
			gfr * hb,
			gfr / (fv.Age + 1),
			fv.CreatinineMgDL * (fv.Age + 1) / 100,
			hb * gfr / 100,
			bmi * gfr / 100,
		},
	}
}

func sameSchema(names []string) bool {
	if len(names) != len(FeatureNames) {
		return false
	}
	for i := range names {
		if names[i] != FeatureNames[i] {
			return false
		}
	}
	return true
}
