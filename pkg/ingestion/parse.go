package ingestion

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ai4ckd/platform/pkg/common/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Rows is a decoded export. Lines[i] locates Records[i] in the source: the
// 1-based line of a CSV row, or the 1-based position in a JSON array.
type Rows struct {
	Records []models.PatientRecord
	Lines   []int
}

func (r *Rows) add(rec models.PatientRecord, line int) {
	r.Records = append(r.Records, rec)
	r.Lines = append(r.Lines, line)
}

// Parse decodes an export into records. Registry columns are kept under
// their original headers; the normalizer resolves them.
func Parse(format string, body []byte) (Rows, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return ReadCSV(bytes.NewReader(body))
	case FormatJSON:
		return readJSON(body)
	default:
		return Rows{}, refuse("format", fmt.Errorf("%q: %w", format, ErrUnsupportedFormat))
	}
}

// ReadCSV reads a registry export. The delimiter is sniffed from the header
// line since spreadsheet exports use ';' in French locales. Empty cells are
// dropped so the normalizer can impute them, and rows with no value at all
// are skipped.
func ReadCSV(r io.Reader) (Rows, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Rows{}, fmt.Errorf("reading export: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = sniffDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Rows{}, refuse("body", ErrEmptyExport)
	}
	if err != nil {
		return Rows{}, refuse("body", fmt.Errorf("reading header: %w", err))
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows Rows
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Rows{}, refuse("body", fmt.Errorf("reading export: %w", err))
		}
		line, _ := reader.FieldPos(0)
		fields := make(map[string]interface{}, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				fields[header[i]] = cell
			}
		}
		if len(fields) == 0 {
			continue
		}
		rows.add(models.PatientRecord{Fields: fields}, line)
	}
	return rows, nil
}

func sniffDelimiter(raw []byte) rune {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// readJSON accepts an array of PatientRecord objects or of flat rows.
func readJSON(body []byte) (Rows, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Rows{}, refuse("body", fmt.Errorf("decoding json export: %w", err))
	}
	var rows Rows
	for i, row := range raw {
		if fields, ok := row["fields"].(map[string]interface{}); ok {
			rec := models.PatientRecord{Fields: fields}
			rec.PatientID, _ = row["patient_id"].(string)
			rec.Region, _ = row["region"].(string)
			rows.add(rec, i+1)
			continue
		}
		rows.add(models.PatientRecord{Fields: row}, i+1)
	}
	return rows, nil
}
