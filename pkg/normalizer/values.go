package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errNotNumeric = fmt.Errorf("not a number")
	errNotFinite  = fmt.Errorf("not a finite number")
)

// parseNumber converts registry values to float64. ok is false when the
// value is absent. Strings follow the registry conventions: decimal commas,
// "négative"/"trace"/"absent" as zero, "> 3" as just above the bound and
// dipstick crosses (+, ++, +++) as 0.3, 1 and 3 g/L. NaN and infinities
// are rejected whatever their source.
func parseNumber(value interface{}) (v float64, ok bool, err error) {
	v, ok, err = parseRawNumber(value)
	if err == nil && ok && !finite(v) {
		return 0, true, errNotFinite
	}
	return v, ok, err
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func parseRawNumber(value interface{}) (float64, bool, error) {
	switch val := value.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return val, true, nil
	case float32:
		return float64(val), true, nil
	case int:
		return float64(val), true, nil
	case int64:
		return float64(val), true, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, true, errNotNumeric
		}
		return f, true, nil
	case string:
		return parseNumericString(val)
	default:
		return 0, true, errNotNumeric
	}
}

func parseNumericString(raw string) (float64, bool, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "nan" || s == "na" {
		return 0, false, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	for _, negative := range []string{"négative", "negative", "négatif", "negatif", "trace", "absent"} {
		if strings.Contains(s, negative) {
			return 0, true, nil
		}
	}
	if strings.Contains(s, ">") {
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ">", "")), 64)
		if err != nil {
			return 0, true, errNotNumeric
		}
		return f + 0.1, true, nil
	}
	if crosses := strings.Count(s, "+"); crosses > 0 && strings.Trim(s, "+ ") == "" {
		switch {
		case crosses >= 3:
			return 3.0, true, nil
		case crosses == 2:
			return 1.0, true, nil
		default:
			return 0.3, true, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, true, errNotNumeric
	}
	return f, true, nil
}

var (
	truthy = map[string]struct{}{
		"oui": {}, "yes": {}, "true": {}, "1": {}, "positive": {}, "positif": {},
		"présent": {}, "present": {}, "o": {}, "y": {},
	}
	falsy = map[string]struct{}{
		"non": {}, "no": {}, "false": {}, "0": {}, "negative": {}, "négatif": {},
		"negatif": {}, "absent": {}, "n": {},
	}
)

// parseFlag reads a comorbidity flag. ok is false when the value is absent.
func parseFlag(value interface{}) (v bool, ok bool, err error) {
	switch val := value.(type) {
	case nil:
		return false, false, nil
	case bool:
		return val, true, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		if s == "" {
			return false, false, nil
		}
		if _, yes := truthy[s]; yes {
			return true, true, nil
		}
		if _, no := falsy[s]; no {
			return false, true, nil
		}
		if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
			return f != 0, true, nil
		}
		return false, true, fmt.Errorf("not a boolean")
	default:
		f, present, err := parseNumber(val)
		if err != nil {
			return false, true, fmt.Errorf("not a boolean")
		}
		return f != 0, present, nil
	}
}

func parseText(value interface{}) string {
	switch val := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
