package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Reasons a registry export is refused before any row is read.
var (
	ErrUnregisteredFacility = errors.New("facility is not registered to submit exports")
	ErrUnsupportedFormat    = errors.New("export format not supported")
	ErrEmptyExport          = errors.New("export carries no rows")
)

// ValidationError rejects a whole export. Part names the element of the
// upload at fault: "source", "format" or "body".
type ValidationError struct {
	Part   string
	reason error
}

func (e ValidationError) Error() string {
	if e.Part == "" {
		return e.reason.Error()
	}
	return e.Part + ": " + e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

func refuse(part string, reason error) ValidationError {
	return ValidationError{Part: part, reason: reason}
}

// ExportPolicy decides which facilities may upload and in which formats.
// Facility identifiers compare case-insensitively.
type ExportPolicy struct {
	facilities map[string]struct{}
	formats    map[string]struct{}
}

// NewExportPolicy accepts any facility when facilities is empty. An empty
// formats list allows csv and json.
func NewExportPolicy(facilities, formats []string) *ExportPolicy {
	if len(formats) == 0 {
		formats = []string{FormatCSV, FormatJSON}
	}
	return &ExportPolicy{facilities: keySet(facilities), formats: keySet(formats)}
}

func keySet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if k := canonical(v); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Admit checks the upload envelope and returns it with the facility and
// format in canonical form. Rows are left to the normalizer.
func (p *ExportPolicy) Admit(req Request) (Request, error) {
	if p == nil {
		return req, errors.New("export policy not configured")
	}

	facility := canonical(req.Source)
	if facility == "" {
		return req, refuse("source", fmt.Errorf("facility identifier missing: %w", ErrUnregisteredFacility))
	}
	if len(p.facilities) > 0 {
		if _, ok := p.facilities[facility]; !ok {
			return req, refuse("source", fmt.Errorf("%q: %w", facility, ErrUnregisteredFacility))
		}
	}

	format := canonical(req.Format)
	if format == "" {
		return req, refuse("format", fmt.Errorf("no format given and none implied by the content type: %w", ErrUnsupportedFormat))
	}
	if _, ok := p.formats[format]; !ok {
		return req, refuse("format", fmt.Errorf("%q: %w", format, ErrUnsupportedFormat))
	}

	if len(bytes.TrimSpace(bytes.TrimPrefix(req.Body, utf8BOM))) == 0 {
		return req, refuse("body", ErrEmptyExport)
	}

	req.Source = facility
	req.Format = format
	return req, nil
}
