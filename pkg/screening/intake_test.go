package screening

import (
	"context"
	"testing"

	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/dlp"
	"github.com/stretchr/testify/require"
)

func TestIntakeRecordEnvelope(t *testing.T) {
	e := newEngine(t, Options{})
	in := NewIntake(e, nil, nil)

	rec := scenario()
	err := in.Handle(context.Background(), models.Event{
		ID:   "evt-1",
		Type: models.EventPatientRecord,
		Data: map[string]interface{}{"record": rec},
	})
	require.NoError(t, err)

	entry, rank, ok := e.Patient("P-001")
	require.True(t, ok)
	require.Equal(t, 1, rank)
	require.Equal(t, "BJ-LI", entry.Region)
	require.Equal(t, 26, entry.Score)
}

func TestIntakeFieldsAndFlatRow(t *testing.T) {
	e := newEngine(t, Options{})
	in := NewIntake(e, nil, nil)
	ctx := context.Background()

	err := in.Handle(ctx, models.Event{
		ID:   "evt-2",
		Type: models.EventPatientRecord,
		Data: map[string]interface{}{
			"patient_id": "P-020",
			"region":     "BJ-BO",
			"fields": map[string]interface{}{
				"age":             62,
				"sex":             "F",
				"creatinine":      1.1,
				"creatinine_unit": "mg/dL",
			},
		},
	})
	require.NoError(t, err)
	_, _, ok := e.Patient("P-020")
	require.True(t, ok)

	// Untyped events carry a flat registry row.
	err = in.Handle(ctx, models.Event{
		ID: "evt-3",
		Data: map[string]interface{}{
			"patient_id":      "P-021",
			"region":          "Zou",
			"age":             48,
			"sex":             "M",
			"creatinine":      0.9,
			"creatinine_unit": "mg/dL",
		},
	})
	require.NoError(t, err)
	entry, _, ok := e.Patient("P-021")
	require.True(t, ok)
	require.Equal(t, "BJ-ZO", entry.Region)
	require.Equal(t, 2, e.Totals().Patients)
}

func TestIntakeRemoval(t *testing.T) {
	e := newEngine(t, Options{})
	in := NewIntake(e, nil, nil)
	ctx := context.Background()
	_, err := e.Submit(ctx, scenario())
	require.NoError(t, err)

	removal := models.Event{
		ID:   "evt-4",
		Type: models.EventPatientRemoved,
		Data: map[string]interface{}{"patient_id": "P-001"},
	}
	require.NoError(t, in.Handle(ctx, removal))
	_, _, ok := e.Patient("P-001")
	require.False(t, ok)

	// Redelivery of the same removal is a no-op.
	require.NoError(t, in.Handle(ctx, removal))
}

func TestIntakeDeadLettersInvalidRecords(t *testing.T) {
	e := newEngine(t, Options{})
	dlq := &capturePublisher{}
	in := NewIntake(e, dlq, nil)
	ctx := context.Background()

	bad := patient("P-030", "BJ-LI", 1.2)
	bad.Fields["age"] = 300
	require.NoError(t, in.Handle(ctx, models.Event{
		ID:   "evt-5",
		Type: models.EventPatientRecord,
		Data: map[string]interface{}{"record": bad},
	}))
	require.NoError(t, in.Handle(ctx, models.Event{
		ID:   "evt-6",
		Type: models.EventPatientRecord,
		Data: map[string]interface{}{"record": "{broken"},
	}))
	require.NoError(t, in.Handle(ctx, models.Event{
		ID:   "evt-7",
		Type: models.EventPatientRemoved,
		Data: map[string]interface{}{},
	}))

	require.Len(t, dlq.data, 3)
	require.Equal(t, "evt-5", dlq.data[0]["original_event_id"])
	require.Contains(t, dlq.data[0]["error"], "age")
	require.Equal(t, "evt-6", dlq.data[1]["original_event_id"])
	require.Equal(t, []string{models.EventPatientRecord, models.EventPatientRecord, models.EventPatientRemoved}, dlq.types())
	require.Empty(t, e.TopUrgent(0))
}

func TestIntakeDeadLetterIsSanitized(t *testing.T) {
	e := newEngine(t, Options{})
	dlq := &capturePublisher{}
	detector, err := dlp.NewDetector(dlp.DefaultRules())
	require.NoError(t, err)
	in := NewIntake(e, dlq, detector)

	require.NoError(t, in.Handle(context.Background(), models.Event{
		ID:   "evt-10",
		Type: models.EventPatientRecord,
		Data: map[string]interface{}{
			"ID":        "P-040",
			"Nom":       "Dossou",
			"Téléphone": "+229 97 12 34 56",
			"Âge":       "-4",
		},
	}))

	require.Len(t, dlq.data, 1)
	sent := dlq.data[0]["data"].(map[string]interface{})
	require.Equal(t, dlp.FieldMask, sent["Nom"])
	require.Equal(t, dlp.FieldMask, sent["Téléphone"])
	require.Equal(t, "P-040", sent["ID"])
}

func TestIntakeReturnsStorageErrors(t *testing.T) {
	e := newEngine(t, Options{Store: failingStore{}})
	dlq := &capturePublisher{}
	in := NewIntake(e, dlq, nil)

	err := in.Handle(context.Background(), models.Event{
		ID:   "evt-8",
		Type: models.EventPatientRecord,
		Data: map[string]interface{}{"record": scenario()},
	})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Empty(t, dlq.types())
}

func TestIntakeIgnoresOtherEvents(t *testing.T) {
	e := newEngine(t, Options{})
	in := NewIntake(e, nil, nil)
	require.NoError(t, in.Handle(context.Background(), models.Event{
		ID:   "evt-9",
		Type: models.EventPatientScored,
		Data: map[string]interface{}{"patient_id": "P-001"},
	}))
	require.Empty(t, e.TopUrgent(0))
}
