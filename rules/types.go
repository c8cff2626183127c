package rules

import (
	"fmt"
	"strings"
)

// Well-known rule keys.
const (
	KeyVersion          = "ruleset_version"
	KeyMaxScore         = "max_score"
	KeyMaxLevel         = "max_level"
	KeyAbilityRiskTiers = "ability_risk_tiers"
	KeyCosts            = "costs"
	KeyZoneDifficulty   = "zone_difficulty"
)

// RiskTier classifies how risky an ability is to use.
type RiskTier byte

const (
	RiskLow    RiskTier = 1
	RiskMedium RiskTier = 2
	RiskHigh   RiskTier = 3
)

var RiskTierDictionary = map[RiskTier]string{
	RiskLow:    "low",
	RiskMedium: "medium",
	RiskHigh:   "high",
}

// Weight maps the tier onto [0,1]: low=0, medium=0.5, high=1.
func (t RiskTier) Weight() float64 {
	switch t {
	case RiskLow:
		return 0
	case RiskHigh:
		return 1
	default:
		return 0.5
	}
}

func (t RiskTier) String() string {
	if s, ok := RiskTierDictionary[t]; ok {
		return s
	}
	return fmt.Sprintf("RiskTier(%d)", byte(t))
}

// ParseRiskTier accepts the tier names case-insensitively.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium", "med":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return 0, fmt.Errorf("unknown risk tier %q", s)
	}
}
