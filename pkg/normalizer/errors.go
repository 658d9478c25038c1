package normalizer

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

// ValidationError reports every offending field of a record at once.
type ValidationError struct {
	PatientID string       `json:"patient_id,omitempty"`
	Fields    []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	if e.PatientID != "" {
		return fmt.Sprintf("invalid patient record %s: %s", e.PatientID, strings.Join(parts, "; "))
	}
	return "invalid patient record: " + strings.Join(parts, "; ")
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type collector struct {
	fields []FieldError
}

func (c *collector) add(field, format string, args ...interface{}) {
	c.fields = append(c.fields, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (c *collector) err(patientID string) error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{PatientID: patientID, Fields: c.fields}
}
