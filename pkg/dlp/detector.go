// Package dlp finds and masks personal identifiers in raw patient payloads
// before they leave the service, such as records sent to the dead letter
// topic.
package dlp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ai4ckd/platform/pkg/common/textnorm"
)

// FieldMask replaces the whole value of an identifying column.
const FieldMask = "[redacted]"

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

type Detector struct {
	rules  []compiledRule
	fields map[string]struct{}
}

// Position locates one match inside a string value.
type Position struct {
	Field string `json:"field"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

type Result struct {
	Detected  bool       `json:"detected"`
	Types     []string   `json:"types,omitempty"`
	Fields    []string   `json:"fields,omitempty"`
	Positions []Position `json:"positions,omitempty"`
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("DLP rule %s: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	fields := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if key := textnorm.Fold(f); key != "" {
			fields[key] = struct{}{}
		}
	}
	return &Detector{rules: compiled, fields: fields}, nil
}

func (d *Detector) identifying(key string) bool {
	_, ok := d.fields[textnorm.Fold(key)]
	return ok
}

// Detect reports identifying columns and pattern matches, without changing
// data. Nested maps and slices are walked.
func (d *Detector) Detect(data map[string]interface{}) Result {
	if d == nil {
		return Result{}
	}

	var res Result
	types := make(map[string]struct{})
	var walk func(key string, value interface{})
	walk = func(key string, value interface{}) {
		switch v := value.(type) {
		case map[string]interface{}:
			for k, nested := range v {
				if d.identifying(k) && nested != nil && fmt.Sprint(nested) != "" {
					res.Fields = append(res.Fields, k)
					continue
				}
				walk(k, nested)
			}
		case []interface{}:
			for _, nested := range v {
				walk(key, nested)
			}
		case string:
			for _, rule := range d.rules {
				for _, m := range rule.re.FindAllStringIndex(v, -1) {
					types[rule.rule.Type] = struct{}{}
					res.Positions = append(res.Positions, Position{Field: key, Start: m[0], End: m[1], Type: rule.rule.Type})
				}
			}
		}
	}
	walk("", data)

	for t := range types {
		res.Types = append(res.Types, t)
	}
	sort.Strings(res.Types)
	sort.Strings(res.Fields)
	res.Detected = len(res.Fields) > 0 || len(res.Positions) > 0
	return res
}

// Sanitize returns a deep copy of data with identifying columns replaced by
// FieldMask and pattern matches masked. Non-string leaves are kept.
func (d *Detector) Sanitize(data map[string]interface{}) map[string]interface{} {
	if d == nil || data == nil {
		return data
	}
	out, _ := d.sanitizeValue(data).(map[string]interface{})
	return out
}

func (d *Detector) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		masked := v
		for _, rule := range d.rules {
			masked = rule.re.ReplaceAllString(masked, rule.rule.Mask)
		}
		return masked
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, nested := range v {
			if d.identifying(k) {
				out[k] = FieldMask
				continue
			}
			out[k] = d.sanitizeValue(nested)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = d.sanitizeValue(nested)
		}
		return out
	default:
		return value
	}
}

// Summary is Detect's types and fields joined for a log line.
func (r Result) Summary() string {
	parts := append(append([]string(nil), r.Types...), r.Fields...)
	return strings.Join(parts, ",")
}
