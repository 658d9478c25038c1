package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // patient.record, patient.scored, patient.removed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventPatientRecord  = "patient.record"
	EventPatientScored  = "patient.scored"
	EventPatientRemoved = "patient.removed"
)

// PatientRecord is one intake version of a patient as received from a
// registry export, a form or the event bus. Fields holds raw values keyed by
// canonical or alias names; nothing in it has been validated yet.
type PatientRecord struct {
	PatientID  string                 `json:"patient_id"`
	Region     string                 `json:"region"`
	Version    int                    `json:"version,omitempty"`
	Fields     map[string]interface{} `json:"fields"`
	ReceivedAt time.Time              `json:"received_at,omitempty"`

	// Removed marks a tombstone version written when a patient leaves the
	// screening programme. Earlier versions are kept.
	Removed bool `json:"removed,omitempty"`
}

type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

// AlbuminuriaBand follows the KDIGO A1-A3 categories.
type AlbuminuriaBand int

const (
	AlbuminuriaNormal   AlbuminuriaBand = iota + 1 // A1
	AlbuminuriaModerate                            // A2
	AlbuminuriaSevere                              // A3
)

func (b AlbuminuriaBand) String() string {
	switch b {
	case AlbuminuriaNormal:
		return "A1"
	case AlbuminuriaModerate:
		return "A2"
	case AlbuminuriaSevere:
		return "A3"
	default:
		return "unknown"
	}
}

// FeatureVector is the validated projection of a PatientRecord consumed by
// the eDFG calculator, the stage classifier and the SR-IRC scorer.
type FeatureVector struct {
	PatientID string `json:"patient_id"`
	Region    string `json:"region"`
	Version   int    `json:"version"`

	Age            float64 `json:"age"`
	Sex            Sex     `json:"sex"`
	CreatinineMgDL float64 `json:"creatinine_mg_dl"`

	Hemoglobin float64 `json:"hemoglobin_g_dl"`
	UreaGL     float64 `json:"urea_g_l"`
	Potassium  float64 `json:"potassium_meq_l"`
	WeightKg   float64 `json:"weight_kg"`
	HeightM    float64 `json:"height_m"`

	Albuminuria         AlbuminuriaBand `json:"albuminuria"`
	Hypertension        bool            `json:"hypertension"`
	Diabetes            bool            `json:"diabetes"`
	CardiovascularEvent bool            `json:"cardiovascular_event"`

	// Imputed lists optional fields that were absent and received defaults.
	Imputed []string `json:"imputed,omitempty"`
}

func (f FeatureVector) Male() bool {
	return f.Sex == SexMale
}
