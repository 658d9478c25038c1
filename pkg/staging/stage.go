// Package staging classifies patients into KDIGO GFR categories. A trained
// model is consulted through Adapter; when it cannot answer, the stage is
// derived from eDFG bands and flagged as degraded.
package staging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage is ordered by severity: G1 < G2 < G3a < G3b < G4 < G5.
type Stage int

const (
	StageUnknown Stage = iota
	G1
	G2
	G3a
	G3b
	G4
	G5
)

var stageLabels = [...]string{"unknown", "G1", "G2", "G3a", "G3b", "G4", "G5"}

// Stages lists every valid stage from least to most severe.
var Stages = []Stage{G1, G2, G3a, G3b, G4, G5}

func (s Stage) String() string {
	if s < StageUnknown || s > G5 {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageLabels[s]
}

func (s Stage) Valid() bool {
	return s >= G1 && s <= G5
}

// ParseStage accepts "G3a", "g3A", "3a" and "3A". Labels outside the six
// categories are rejected.
func ParseStage(label string) (Stage, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.TrimPrefix(l, "g")
	switch l {
	case "1":
		return G1, nil
	case "2":
		return G2, nil
	case "3a":
		return G3a, nil
	case "3b":
		return G3b, nil
	case "4":
		return G4, nil
	case "5":
		return G5, nil
	}
	return StageUnknown, fmt.Errorf("unknown stage label %q", label)
}

func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", s)
	}
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseStage(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
