// Package normalizer turns raw patient records into validated feature
// vectors. Normalization is pure; every problem in a record is reported in a
// single ValidationError.
package normalizer

import (
	"sort"
	"strings"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/terminology"
)

// Physiological ranges accepted after unit conversion.
type bounds struct {
	min, max float64
}

var (
	ageRange         = bounds{1, 120}
	creatinineRange  = bounds{0.1, 25}
	hemoglobinRange  = bounds{3, 22}
	ureaRange        = bounds{0.05, 5}
	potassiumRange   = bounds{1, 10}
	weightRange      = bounds{10, 250}
	heightRange      = bounds{0.5, 2.5}
	acrRange         = bounds{0, 10000}
	proteinuriaRange = bounds{0, 30}
)

// Defaults applied when an optional lab is missing.
const (
	DefaultHemoglobin = 12.0
	DefaultUrea       = 0.4
	DefaultPotassium  = 4.5
	DefaultWeight     = 70.0
	DefaultHeight     = 1.70
)

const (
	mgPerLToMgPerDL     = 10.0
	umolPerLToMgPerDL   = 88.4
	acrModerateMgPerG   = 30.0
	acrSevereMgPerG     = 300.0
	proteinuriaModerate = 1.0
	proteinuriaSevere   = 3.0

	// minUnitlessCreatinine is the smallest creatinine accepted without a
	// unit. Unitless values are read as mg/L, and anything lower is far more
	// likely a mg/dL value sent without its unit.
	minUnitlessCreatinine = 3.0
)

type Normalizer struct {
	catalog *terminology.Catalog
}

func New(catalog *terminology.Catalog) *Normalizer {
	if catalog == nil {
		catalog = terminology.DefaultCatalog()
	}
	return &Normalizer{catalog: catalog}
}

// Normalize validates rec and projects it into a FeatureVector. On failure
// the returned error is a *ValidationError naming every rejected field.
//
// Creatinine without a creatinine_unit is read as mg/L, the registry unit.
// Unitless values below 3 are rejected as ambiguous.
func (n *Normalizer) Normalize(rec models.PatientRecord) (models.FeatureVector, error) {
	values := n.resolve(rec.Fields)
	errs := &collector{}

	fv := models.FeatureVector{Version: rec.Version}

	fv.PatientID = strings.TrimSpace(rec.PatientID)
	if fv.PatientID == "" {
		fv.PatientID = parseText(values.first(terminology.FieldPatientID))
	}
	if fv.PatientID == "" {
		errs.add(terminology.FieldPatientID, "required")
	}

	fv.Region = strings.TrimSpace(rec.Region)
	if fv.Region == "" {
		fv.Region = parseText(values.first(terminology.FieldRegion))
	}
	if fv.Region == "" {
		errs.add(terminology.FieldRegion, "required")
	}

	if age, ok := requireNumber(errs, terminology.FieldAge, values.first(terminology.FieldAge)); ok {
		if checkRange(errs, terminology.FieldAge, age, ageRange) {
			fv.Age = age
		}
	}

	if sex, err := parseSex(values.first(terminology.FieldSex)); err != "" {
		errs.add(terminology.FieldSex, "%s", err)
	} else {
		fv.Sex = sex
	}

	if scr, ok := requireNumber(errs, terminology.FieldCreatinine, values.first(terminology.FieldCreatinine)); ok {
		if scr <= 0 {
			errs.add(terminology.FieldCreatinine, "must be positive, got %g", scr)
		} else if factor, unitErr := creatinineFactor(values.first(terminology.FieldCreatinineUnit)); unitErr != "" {
			errs.add(terminology.FieldCreatinineUnit, "%s", unitErr)
		} else if values.first(terminology.FieldCreatinineUnit) == nil && scr < minUnitlessCreatinine {
			errs.add(terminology.FieldCreatinine, "%g without a unit is ambiguous; set creatinine_unit", scr)
		} else if mgdl := scr / factor; checkRange(errs, terminology.FieldCreatinine, mgdl, creatinineRange) {
			fv.CreatinineMgDL = mgdl
		}
	}

	fv.Hemoglobin = optionalNumber(errs, &fv, terminology.FieldHemoglobin, values.first(terminology.FieldHemoglobin), hemoglobinRange, DefaultHemoglobin)
	fv.UreaGL = optionalNumber(errs, &fv, terminology.FieldUrea, values.first(terminology.FieldUrea), ureaRange, DefaultUrea)
	fv.Potassium = optionalNumber(errs, &fv, terminology.FieldPotassium, values.first(terminology.FieldPotassium), potassiumRange, DefaultPotassium)
	fv.WeightKg = optionalNumber(errs, &fv, terminology.FieldWeight, values.first(terminology.FieldWeight), weightRange, DefaultWeight)
	fv.HeightM = normalizeHeight(errs, &fv, values.first(terminology.FieldHeight))

	fv.Albuminuria = albuminuriaBand(errs, &fv, values)

	fv.Hypertension = flag(errs, &fv, terminology.FieldHypertension, values.all(terminology.FieldHypertension))
	fv.Diabetes = flag(errs, &fv, terminology.FieldDiabetes, values.all(terminology.FieldDiabetes))
	fv.CardiovascularEvent = flag(errs, &fv, terminology.FieldCardiovascular, values.all(terminology.FieldCardiovascular))

	if err := errs.err(fv.PatientID); err != nil {
		return models.FeatureVector{}, err
	}
	return fv, nil
}

type resolved map[string][]interface{}

func (r resolved) first(field string) interface{} {
	for _, v := range r[field] {
		if v != nil {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			return v
		}
	}
	return nil
}

func (r resolved) all(field string) []interface{} {
	return r[field]
}

// resolve groups raw values under canonical field names. Keys are visited in
// sorted order so a record carrying several aliases for one field always
// normalizes the same way.
func (n *Normalizer) resolve(fields map[string]interface{}) resolved {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(resolved)
	for _, k := range keys {
		field, ok := n.catalog.Resolve(k)
		if !ok {
			continue
		}
		out[field] = append(out[field], fields[k])
	}
	return out
}

func requireNumber(errs *collector, field string, raw interface{}) (float64, bool) {
	v, present, err := parseNumber(raw)
	switch {
	case err != nil:
		errs.add(field, "%v: %v", err, raw)
		return 0, false
	case !present:
		errs.add(field, "required")
		return 0, false
	}
	return v, true
}

func optionalNumber(errs *collector, fv *models.FeatureVector, field string, raw interface{}, r bounds, def float64) float64 {
	v, present, err := parseNumber(raw)
	if err != nil {
		errs.add(field, "%v: %v", err, raw)
		return 0
	}
	if !present {
		fv.Imputed = append(fv.Imputed, field)
		return def
	}
	if !checkRange(errs, field, v, r) {
		return 0
	}
	return v
}

func normalizeHeight(errs *collector, fv *models.FeatureVector, raw interface{}) float64 {
	v, present, err := parseNumber(raw)
	if err != nil {
		errs.add(terminology.FieldHeight, "%v: %v", err, raw)
		return 0
	}
	if !present {
		fv.Imputed = append(fv.Imputed, terminology.FieldHeight)
		return DefaultHeight
	}
	// registries mix metres and centimetres
	if v > 3 {
		v /= 100
	}
	if !checkRange(errs, terminology.FieldHeight, v, heightRange) {
		return 0
	}
	return v
}

func checkRange(errs *collector, field string, v float64, r bounds) bool {
	if !finite(v) {
		errs.add(field, "%v", errNotFinite)
		return false
	}
	if v < r.min || v > r.max {
		errs.add(field, "%g outside [%g, %g]", v, r.min, r.max)
		return false
	}
	return true
}

func parseSex(raw interface{}) (models.Sex, string) {
	s := strings.ToLower(parseText(raw))
	switch s {
	case "":
		return "", "required"
	case "m", "male", "homme", "h", "masculin":
		return models.SexMale, ""
	case "f", "female", "femme", "féminin", "feminin":
		return models.SexFemale, ""
	}
	return "", "unrecognized value " + s
}

// creatinineFactor returns the divisor that converts the given unit to mg/dL.
func creatinineFactor(raw interface{}) (float64, string) {
	unit := strings.ToLower(strings.ReplaceAll(parseText(raw), " ", ""))
	switch unit {
	case "", "mg/l":
		return mgPerLToMgPerDL, ""
	case "mg/dl":
		return 1, ""
	case "umol/l", "µmol/l", "μmol/l", "micromol/l":
		return umolPerLToMgPerDL, ""
	}
	return 0, "unsupported unit " + unit
}

func albuminuriaBand(errs *collector, fv *models.FeatureVector, values resolved) models.AlbuminuriaBand {
	if raw := values.first(terminology.FieldAlbuminuria); raw != nil {
		band, ok := parseBand(raw)
		if !ok {
			errs.add(terminology.FieldAlbuminuria, "unrecognized band %v", raw)
			return 0
		}
		return band
	}

	if acr, present, err := parseNumber(values.first(terminology.FieldACR)); err != nil {
		errs.add(terminology.FieldACR, "%v", err)
		return 0
	} else if present {
		if !checkRange(errs, terminology.FieldACR, acr, acrRange) {
			return 0
		}
		switch {
		case acr > acrSevereMgPerG:
			return models.AlbuminuriaSevere
		case acr >= acrModerateMgPerG:
			return models.AlbuminuriaModerate
		default:
			return models.AlbuminuriaNormal
		}
	}

	for _, field := range []string{terminology.FieldProteinuria24h, terminology.FieldProteinuriaDipstick} {
		prot, present, err := parseNumber(values.first(field))
		if err != nil {
			errs.add(field, "%v", err)
			return 0
		}
		if !present {
			continue
		}
		if !checkRange(errs, field, prot, proteinuriaRange) {
			return 0
		}
		switch {
		case prot > proteinuriaSevere:
			return models.AlbuminuriaSevere
		case prot > proteinuriaModerate:
			return models.AlbuminuriaModerate
		default:
			return models.AlbuminuriaNormal
		}
	}

	fv.Imputed = append(fv.Imputed, terminology.FieldAlbuminuria)
	return models.AlbuminuriaNormal
}

func parseBand(raw interface{}) (models.AlbuminuriaBand, bool) {
	if n, present, err := parseNumber(raw); err == nil && present {
		band := models.AlbuminuriaBand(int(n))
		return band, band >= models.AlbuminuriaNormal && band <= models.AlbuminuriaSevere
	}
	switch strings.ToLower(parseText(raw)) {
	case "a1", "normal", "none", "normale":
		return models.AlbuminuriaNormal, true
	case "a2", "moderate", "modérée", "moderee", "micro", "microalbuminuria":
		return models.AlbuminuriaModerate, true
	case "a3", "severe", "sévère", "severe_increase", "macro", "macroalbuminuria":
		return models.AlbuminuriaSevere, true
	}
	return 0, false
}

// flag ORs every value mapped to a comorbidity, since registries record the
// same condition under several columns.
func flag(errs *collector, fv *models.FeatureVector, field string, raws []interface{}) bool {
	var seen, result bool
	for _, raw := range raws {
		v, present, err := parseFlag(raw)
		if err != nil {
			errs.add(field, "%v: %v", err, raw)
			return false
		}
		if present {
			seen = true
			result = result || v
		}
	}
	if !seen {
		fv.Imputed = append(fv.Imputed, field)
	}
	return result
}
