package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/normalizer"
	"github.com/ai4ckd/platform/pkg/observability/metrics"
)

// Intake consumes patient.record and patient.removed events. Records that
// can never succeed go to the dead letter publisher; storage failures are
// returned so the consumer leaves the message uncommitted.
type Intake struct {
	engine    *Engine
	dlq       Publisher
	sanitizer Sanitizer
}

// Sanitizer masks personal identifiers in payloads leaving the service.
// dlp.Detector implements it.
type Sanitizer interface {
	Sanitize(data map[string]interface{}) map[string]interface{}
}

// NewIntake builds the consumer handler. dlq and sanitizer may be nil.
func NewIntake(engine *Engine, dlq Publisher, sanitizer Sanitizer) *Intake {
	return &Intake{engine: engine, dlq: dlq, sanitizer: sanitizer}
}

// Handle matches kafka.EventHandler.
func (in *Intake) Handle(ctx context.Context, event models.Event) error {
	switch event.Type {
	case models.EventPatientRemoved:
		pid, _ := event.Data["patient_id"].(string)
		if pid == "" {
			return in.deadLetter(ctx, event, errors.New("removal without patient_id"))
		}
		err := in.engine.Remove(ctx, pid)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	case models.EventPatientRecord, "":
	default:
		logger.Log.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Debug("ignoring event")
		return nil
	}

	rec, err := recordFromEvent(event.Data)
	if err != nil {
		return in.deadLetter(ctx, event, err)
	}
	out, err := in.engine.Submit(ctx, rec)
	if err != nil {
		if normalizer.IsValidationError(err) {
			return in.deadLetter(ctx, event, err)
		}
		return err
	}

	logger.ForPatient(out.PatientID, out.Region).WithFields(map[string]interface{}{
		"event_id": event.ID,
		"stage":    out.Classification.Stage.String(),
		"degraded": out.Classification.Degraded,
		"position": out.Position,
	}).Info("intake record scored")
	return nil
}

func (in *Intake) deadLetter(ctx context.Context, event models.Event, cause error) error {
	metrics.ObserveDeadLetter()
	entry := logger.Log.WithError(cause).WithField("event_id", event.ID)
	if in.dlq == nil {
		entry.Error("intake event rejected, no dead letter topic configured")
		return nil
	}
	entry.Warn("intake event rejected, sending to dead letter topic")
	data := event.Data
	if in.sanitizer != nil {
		data = in.sanitizer.Sanitize(data)
	}
	return in.dlq.PublishEvent(ctx, event.Type, eventSource, map[string]interface{}{
		"original_event_id": event.ID,
		"data":              data,
		"error":             cause.Error(),
	})
}

// recordFromEvent accepts either {"record": {...PatientRecord}} or a flat
// registry row whose keys are field names.
func recordFromEvent(data map[string]interface{}) (models.PatientRecord, error) {
	if data == nil {
		return models.PatientRecord{}, errors.New("event data missing")
	}

	if raw, ok := data["record"]; ok {
		var rec models.PatientRecord
		if err := remarshal(raw, &rec); err != nil {
			return models.PatientRecord{}, fmt.Errorf("decoding record: %w", err)
		}
		return rec, nil
	}

	if fields, ok := data["fields"].(map[string]interface{}); ok {
		rec := models.PatientRecord{Fields: fields}
		rec.PatientID, _ = data["patient_id"].(string)
		rec.Region, _ = data["region"].(string)
		return rec, nil
	}

	fields := make(map[string]interface{}, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return models.PatientRecord{Fields: fields}, nil
}

func remarshal(in interface{}, out interface{}) error {
	if s, ok := in.(string); ok {
		return json.Unmarshal([]byte(s), out)
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
