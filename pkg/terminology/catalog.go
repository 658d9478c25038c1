package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ai4ckd/platform/pkg/common/textnorm"
	"gopkg.in/yaml.v3"
)

// Canonical intake field names.
const (
	FieldPatientID           = "patient_id"
	FieldRegion              = "region"
	FieldAge                 = "age"
	FieldSex                 = "sex"
	FieldCreatinine          = "creatinine"
	FieldCreatinineUnit      = "creatinine_unit"
	FieldHemoglobin          = "hemoglobin"
	FieldUrea                = "urea"
	FieldPotassium           = "potassium"
	FieldWeight              = "weight"
	FieldHeight              = "height"
	FieldACR                 = "acr"
	FieldProteinuria24h      = "proteinuria_24h"
	FieldProteinuriaDipstick = "proteinuria_dipstick"
	FieldAlbuminuria         = "albuminuria"
	FieldHypertension        = "hypertension"
	FieldDiabetes            = "diabetes"
	FieldCardiovascular      = "cardiovascular_event"
)

type Concept struct {
	Display string   `yaml:"display" json:"display"`
	Unit    string   `yaml:"unit" json:"unit,omitempty"`
	SNOMED  string   `yaml:"snomed" json:"snomed,omitempty"`
	LOINC   string   `yaml:"loinc" json:"loinc,omitempty"`
	ICD10   string   `yaml:"icd10" json:"icd10,omitempty"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// Catalog maps canonical field names to their clinical concept and the
// column names registries use for them.
type Catalog struct {
	Concepts map[string]Concept `yaml:"concepts" json:"concepts"`

	aliases map[string]string
}

func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading terminology catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return nil, fmt.Errorf("parsing terminology catalog: %w", err)
	}
	if len(cat.Concepts) == 0 {
		return nil, fmt.Errorf("terminology catalog empty")
	}
	cat.index()
	return &cat, nil
}

func (c *Catalog) index() {
	c.aliases = make(map[string]string)
	for field, concept := range c.Concepts {
		c.aliases[normalizeKey(field)] = field
		for _, alias := range concept.Aliases {
			c.aliases[normalizeKey(alias)] = field
		}
	}
}

// Resolve returns the canonical field for a raw column or JSON key.
func (c *Catalog) Resolve(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	key := normalizeKey(name)
	if c.aliases != nil {
		field, ok := c.aliases[key]
		return field, ok
	}
	for field, concept := range c.Concepts {
		if normalizeKey(field) == key {
			return field, true
		}
		for _, alias := range concept.Aliases {
			if normalizeKey(alias) == key {
				return field, true
			}
		}
	}
	return "", false
}

func (c *Catalog) Lookup(field string) (Concept, bool) {
	if c == nil || c.Concepts == nil {
		return Concept{}, false
	}
	concept, ok := c.Concepts[strings.ToLower(field)]
	return concept, ok
}

func normalizeKey(key string) string {
	return textnorm.Fold(key)
}

func DefaultCatalog() *Catalog {
	cat := &Catalog{Concepts: map[string]Concept{
		FieldPatientID: {
			Display: "Patient identifier",
			Aliases: []string{"id", "id_patient", "patient"},
		},
		FieldRegion: {
			Display: "Administrative region",
			Aliases: []string{"département", "departement", "department", "region_id"},
		},
		FieldAge: {
			Display: "Age",
			Unit:    "a",
			LOINC:   "30525-0",
			Aliases: []string{"âge", "age (ans)"},
		},
		FieldSex: {
			Display: "Sex",
			LOINC:   "76689-9",
			Aliases: []string{"sexe", "gender"},
		},
		FieldCreatinine: {
			Display: "Creatinine [Mass/volume] in Serum or Plasma",
			Unit:    "mg/L",
			LOINC:   "2160-0",
			Aliases: []string{"créatinine (mg/l)", "creatinine (mg/l)", "créatinine", "creatinine_mg_l"},
		},
		FieldCreatinineUnit: {
			Display: "Creatinine unit",
			Aliases: []string{"creatinine unit", "unite creatinine"},
		},
		FieldHemoglobin: {
			Display: "Hemoglobin [Mass/volume] in Blood",
			Unit:    "g/dL",
			LOINC:   "718-7",
			Aliases: []string{"hb", "hb (g/dl)", "hémoglobine", "hemoglobine"},
		},
		FieldUrea: {
			Display: "Urea [Mass/volume] in Serum or Plasma",
			Unit:    "g/L",
			LOINC:   "3091-6",
			Aliases: []string{"urée (g/l)", "uree", "urée"},
		},
		FieldPotassium: {
			Display: "Potassium [Moles/volume] in Serum or Plasma",
			Unit:    "meq/L",
			LOINC:   "2823-3",
			Aliases: []string{"k", "k^+ (meq/l)", "kaliémie"},
		},
		FieldWeight: {
			Display: "Body weight",
			Unit:    "kg",
			LOINC:   "29463-7",
			Aliases: []string{"poids", "poids (kg)"},
		},
		FieldHeight: {
			Display: "Body height",
			Unit:    "m",
			LOINC:   "8302-2",
			Aliases: []string{"taille", "taille (m)"},
		},
		FieldACR: {
			Display: "Albumin/Creatinine [Mass Ratio] in Urine",
			Unit:    "mg/g",
			LOINC:   "9318-7",
			Aliases: []string{"albumin_creatinine_ratio", "rac"},
		},
		FieldProteinuria24h: {
			Display: "Protein [Mass/time] in 24 hour Urine",
			Unit:    "g/24h",
			LOINC:   "2889-4",
			Aliases: []string{"protéinurie", "proteinurie", "proteinuria"},
		},
		FieldProteinuriaDipstick: {
			Display: "Protein [Presence] in Urine by Test strip",
			LOINC:   "20454-5",
			Aliases: []string{"protéinurie à la bandellette urinaire (g/24h)", "bandelette"},
		},
		FieldAlbuminuria: {
			Display: "Albuminuria category",
			Aliases: []string{"albuminuria_band", "albuminurie"},
		},
		FieldHypertension: {
			Display: "Essential hypertension",
			SNOMED:  "38341003",
			ICD10:   "I10",
			Aliases: []string{"hta", "personnels médicaux/hta", "causes majeure après diagnostic/hta"},
		},
		FieldDiabetes: {
			Display: "Diabetes mellitus",
			SNOMED:  "73211009",
			ICD10:   "E11",
			Aliases: []string{
				"diabete",
				"diabète",
				"personnels médicaux/diabète 1",
				"personnels médicaux/diabète 2",
				"causes majeure après diagnostic/diabète",
			},
		},
		FieldCardiovascular: {
			Display: "Prior cardiovascular event",
			SNOMED:  "49601007",
			ICD10:   "I25",
			Aliases: []string{"cardiovascular", "antecedent cardiovasculaire", "avc_idm"},
		},
	}}
	cat.index()
	return cat
}
