package srirc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is the risk band derived from an SR-IRC score.
type Tier int

const (
	TierLow Tier = iota + 1
	TierModerate
	TierHigh
	TierVeryHigh
	TierImminent
)

// Tiers lists every tier from least to most urgent.
var Tiers = []Tier{TierLow, TierModerate, TierHigh, TierVeryHigh, TierImminent}

// Lower bounds, inclusive.
const (
	moderateFrom = 11
	highFrom     = 21
	veryHighFrom = 31
	imminentFrom = 41
)

// TierOf is the only way a tier is produced.
func TierOf(score int) Tier {
	switch {
	case score >= imminentFrom:
		return TierImminent
	case score >= veryHighFrom:
		return TierVeryHigh
	case score >= highFrom:
		return TierHigh
	case score >= moderateFrom:
		return TierModerate
	default:
		return TierLow
	}
}

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "Low"
	case TierModerate:
		return "Moderate"
	case TierHigh:
		return "High"
	case TierVeryHigh:
		return "VeryHigh"
	case TierImminent:
		return "Imminent"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

func ParseTier(label string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(t.String(), strings.TrimSpace(label)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown risk tier %q", label)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseTier(label)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Advice is the follow-up attached to a tier.
type Advice struct {
	Phase    string `json:"phase"`
	FollowUp string `json:"follow_up"`
}

func Recommendation(t Tier) Advice {
	switch t {
	case TierImminent:
		return Advice{Phase: "Dialysis imminent", FollowUp: "Hospitalisation or emergency nephrology referral"}
	case TierVeryHigh:
		return Advice{Phase: "Dialysis preparation", FollowUp: "Monthly follow-up and vascular access planning"}
	case TierHigh:
		return Advice{Phase: "Quarterly follow-up", FollowUp: "Specialist nephrology consultation"}
	case TierModerate:
		return Advice{Phase: "Semi-annual check", FollowUp: "Regular biological monitoring"}
	default:
		return Advice{Phase: "Annual check", FollowUp: "Standard nephroprotection measures"}
	}
}
