package normalizer

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/terminology"
	"github.com/stretchr/testify/require"
)

func scenarioRecord() models.PatientRecord {
	return models.PatientRecord{
		PatientID: "P-001",
		Region:    "LIT",
		Version:   1,
		Fields: map[string]interface{}{
			"age":             55,
			"sex":             "M",
			"creatinine":      1.8,
			"creatinine_unit": "mg/dL",
			"hypertension":    true,
			"diabetes":        "oui",
			"albuminuria":     "severe",
		},
	}
}

func TestNormalizeScenario(t *testing.T) {
	fv, err := New(nil).Normalize(scenarioRecord())
	require.NoError(t, err)

	require.Equal(t, "P-001", fv.PatientID)
	require.Equal(t, "LIT", fv.Region)
	require.Equal(t, 55.0, fv.Age)
	require.Equal(t, models.SexMale, fv.Sex)
	require.InDelta(t, 1.8, fv.CreatinineMgDL, 1e-9)
	require.True(t, fv.Hypertension)
	require.True(t, fv.Diabetes)
	require.False(t, fv.CardiovascularEvent)
	require.Equal(t, models.AlbuminuriaSevere, fv.Albuminuria)

	require.Equal(t, DefaultHemoglobin, fv.Hemoglobin)
	require.Equal(t, DefaultHeight, fv.HeightM)
	require.Contains(t, fv.Imputed, terminology.FieldHemoglobin)
	require.Contains(t, fv.Imputed, terminology.FieldCardiovascular)
	require.NotContains(t, fv.Imputed, terminology.FieldAlbuminuria)
}

func TestNormalizeRegistryColumns(t *testing.T) {
	rec := models.PatientRecord{
		Fields: map[string]interface{}{
			"ID":                            "BJ-17",
			"Département":                   "ATLANTIQUE",
			"Âge":                           "62",
			"Sexe":                          "Femme",
			"Créatinine (mg/L)":             "21,5",
			"Hb (g/dL)":                     "9,8",
			"Taille":                        "158",
			"Protéinurie":                   "> 3",
			"Personnels Médicaux/HTA":       "Non",
			"Personnels Médicaux/Diabète 2": "Oui",
			"Commentaire libre":             "ignored",
		},
	}

	fv, err := New(terminology.DefaultCatalog()).Normalize(rec)
	require.NoError(t, err)
	require.Equal(t, "BJ-17", fv.PatientID)
	require.Equal(t, "ATLANTIQUE", fv.Region)
	require.Equal(t, models.SexFemale, fv.Sex)
	require.InDelta(t, 2.15, fv.CreatinineMgDL, 1e-9)
	require.InDelta(t, 9.8, fv.Hemoglobin, 1e-9)
	require.InDelta(t, 1.58, fv.HeightM, 1e-9)
	require.Equal(t, models.AlbuminuriaSevere, fv.Albuminuria)
	require.False(t, fv.Hypertension)
	require.True(t, fv.Diabetes)
}

func TestNormalizeCreatinineUnits(t *testing.T) {
	cases := []struct {
		unit  string
		value float64
		want  float64
	}{
		{"", 18, 1.8},
		{"mg/L", 18, 1.8},
		{"mg/dL", 1.8, 1.8},
		{"µmol/L", 159.12, 1.8},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("unit %q", tc.unit), func(t *testing.T) {
			rec := scenarioRecord()
			rec.Fields["creatinine"] = tc.value
			rec.Fields["creatinine_unit"] = tc.unit
			fv, err := New(nil).Normalize(rec)
			require.NoError(t, err)
			require.InDelta(t, tc.want, fv.CreatinineMgDL, 1e-6)
		})
	}
}

func TestNormalizeRejectsNonFiniteValues(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"bounded string":   {"creatinine": "> nan", "hemoglobin": "> nan"},
		"NaN values":       {"creatinine": math.NaN(), "hemoglobin": math.NaN()},
		"infinite values":  {"creatinine": math.Inf(1), "hemoglobin": "-inf"},
		"infinity strings": {"creatinine": "Infinity", "hemoglobin": "> inf"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			rec := scenarioRecord()
			for k, v := range fields {
				rec.Fields[k] = v
			}
			_, err := New(nil).Normalize(rec)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			require.True(t, ve.Has(terminology.FieldCreatinine))
			require.True(t, ve.Has(terminology.FieldHemoglobin))
		})
	}
}

func TestNormalizeNaNFlagIsRejected(t *testing.T) {
	rec := scenarioRecord()
	rec.Fields["hypertension"] = math.NaN()
	_, err := New(nil).Normalize(rec)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.True(t, ve.Has(terminology.FieldHypertension))
}

func TestNormalizeUnitlessCreatinine(t *testing.T) {
	rec := scenarioRecord()
	rec.Fields["creatinine"] = 1.8
	delete(rec.Fields, "creatinine_unit")
	_, err := New(nil).Normalize(rec)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.True(t, ve.Has(terminology.FieldCreatinine))

	rec.Fields["creatinine"] = "18"
	fv, err := New(nil).Normalize(rec)
	require.NoError(t, err)
	require.InDelta(t, 1.8, fv.CreatinineMgDL, 1e-9)
}

func TestNormalizeReportsEveryField(t *testing.T) {
	rec := models.PatientRecord{
		PatientID: "P-bad",
		Fields: map[string]interface{}{
			"age":        150,
			"sex":        "x",
			"creatinine": 0,
			"hemoglobin": "beaucoup",
			"potassium":  42,
		},
	}

	_, err := New(nil).Normalize(rec)
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "P-bad", ve.PatientID)
	for _, field := range []string{
		terminology.FieldRegion,
		terminology.FieldAge,
		terminology.FieldSex,
		terminology.FieldCreatinine,
		terminology.FieldHemoglobin,
		terminology.FieldPotassium,
	} {
		require.True(t, ve.Has(field), "expected %s to be reported, got %v", field, ve.Fields)
	}
	require.Len(t, ve.Fields, 6)
}

func TestNormalizeMissingRequired(t *testing.T) {
	_, err := New(nil).Normalize(models.PatientRecord{})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	for _, field := range []string{"patient_id", "region", "age", "sex", "creatinine"} {
		require.True(t, ve.Has(field), field)
	}
}

func TestAlbuminuriaPrecedence(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]interface{}
		want   models.AlbuminuriaBand
	}{
		{"explicit band wins", map[string]interface{}{"albuminuria": "A2", "acr": 500}, models.AlbuminuriaModerate},
		{"acr severe", map[string]interface{}{"acr": 450}, models.AlbuminuriaSevere},
		{"acr moderate", map[string]interface{}{"acr": 30}, models.AlbuminuriaModerate},
		{"acr before proteinuria", map[string]interface{}{"acr": 10, "proteinuria_24h": 5}, models.AlbuminuriaNormal},
		{"proteinuria moderate", map[string]interface{}{"proteinuria_24h": "1,5"}, models.AlbuminuriaModerate},
		{"dipstick crosses", map[string]interface{}{"proteinuria_dipstick": "+++"}, models.AlbuminuriaModerate},
		{"negative dipstick", map[string]interface{}{"proteinuria_dipstick": "Négative"}, models.AlbuminuriaNormal},
		{"nothing", map[string]interface{}{}, models.AlbuminuriaNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := scenarioRecord()
			delete(rec.Fields, "albuminuria")
			for k, v := range tc.fields {
				rec.Fields[k] = v
			}
			fv, err := New(nil).Normalize(rec)
			require.NoError(t, err)
			require.Equal(t, tc.want, fv.Albuminuria)
		})
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in      interface{}
		want    float64
		present bool
		err     bool
	}{
		{nil, 0, false, false},
		{"", 0, false, false},
		{"12,5", 12.5, true, false},
		{"trace", 0, true, false},
		{"> 3", 3.1, true, false},
		{"+", 0.3, true, false},
		{"++", 1, true, false},
		{"abc", 0, true, true},
		{7, 7, true, false},
	}
	for _, tc := range cases {
		got, present, err := parseNumber(tc.in)
		require.Equal(t, tc.present, present, "%v", tc.in)
		if tc.err {
			require.Error(t, err, "%v", tc.in)
			continue
		}
		require.NoError(t, err, "%v", tc.in)
		require.InDelta(t, tc.want, got, 1e-9, "%v", tc.in)
	}
}

func TestFlagRejectsGarbage(t *testing.T) {
	rec := scenarioRecord()
	rec.Fields["hypertension"] = "peut-être"
	_, err := New(nil).Normalize(rec)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, []FieldError{{Field: terminology.FieldHypertension, Reason: "not a boolean: peut-être"}}, ve.Fields)
}
