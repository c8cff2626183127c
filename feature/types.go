package feature

import (
	"sort"

	"playprofile/eventlog"
	"playprofile/rules"
)

// Names of the default feature set.
const (
	MovementRatio    = "movement_ratio"
	ActivityRatio    = "activity_ratio"
	RiskScore        = "risk_score"
	IndecisionRate   = "indecision_rate"
	EfficiencyScore  = "efficiency_score"
	RuleMasteryIndex = "rule_mastery_index"
	TotalActions     = "total_actions"
	RuleViolations   = "rule_violations"
	ActionsPerMinute = "actions_per_minute"
	SpendTotal       = "spend_total"
	ZoneDifficulty   = "zone_difficulty"
)

// Flag is a data-quality condition surfaced on a Vector.
type Flag string

const (
	FlagInsufficientData    Flag = "insufficient_data"
	FlagScoreExceedsMax     Flag = "score_exceeds_max"
	FlagUnmatchedStart      Flag = "unmatched_start"
	FlagUnmatchedStop       Flag = "unmatched_stop"
	FlagDuplicateStart      Flag = "duplicate_start"
	FlagOverlappingActivity Flag = "overlapping_activity"
	FlagOutsideWindow       Flag = "outside_window"
	FlagEmptyWindow         Flag = "empty_window"
	FlagUnresolvedAbility   Flag = "unresolved_ability"
	FlagUnknownCost         Flag = "unknown_cost"
	FlagUnknownZone         Flag = "unknown_zone"
	FlagOutOfRange          Flag = "out_of_range"
	FlagFeatureFailed       Flag = "feature_failed"
)

// Range is the valid value range a feature declares.
type Range byte

const (
	RangeUnit        Range = 1 // [0,1]
	RangeNonNegative Range = 2 // [0,+inf)
)

func (r Range) Contains(v float64) bool {
	switch r {
	case RangeUnit:
		return v >= 0 && v <= 1
	case RangeNonNegative:
		return v >= 0
	default:
		return true
	}
}

// OverlapPolicy decides how concurrent start/stop intervals are measured.
type OverlapPolicy byte

const (
	// OverlapUnion counts overlapping time once.
	OverlapUnion OverlapPolicy = 1
	// OverlapSum adds every interval; ratios may exceed 1 and get flagged.
	OverlapSum OverlapPolicy = 2
)

// Input is what every feature function sees. Session events are sorted.
type Input struct {
	Session eventlog.Session
	Rules   *rules.RuleSet
	Overlap OverlapPolicy
}

// Result is one feature's output plus any data-quality observations.
type Result struct {
	Value      float64
	Flags      []Flag
	Notes      []string
	Unresolved int
}

// Func computes one feature. It must not depend on any other feature.
type Func func(in Input) (Result, error)

// Feature is a registered behavioral parameter.
type Feature struct {
	Name    string
	Range   Range
	Compute Func
}

// Metadata carries the non-fatal conditions met while extracting.
type Metadata struct {
	Flags               []Flag            `json:"flags,omitempty"`
	UnresolvedAbilities int               `json:"unresolved_abilities"`
	OutOfRange          []string          `json:"out_of_range,omitempty"`
	Failed              map[string]string `json:"failed,omitempty"`
	Notes               []string          `json:"notes,omitempty"`
}

// Vector is the feature vector for one session.
type Vector struct {
	EngineVersion  string             `json:"engine_version"`
	RulesetVersion string             `json:"ruleset_version,omitempty"`
	Values         map[string]float64 `json:"values"`
	Meta           Metadata           `json:"meta"`
}

// Get returns the named value.
func (v Vector) Get(name string) (float64, bool) {
	f, ok := v.Values[name]
	return f, ok
}

// Require returns the named value or a MissingFeatureError naming consumer.
func (v Vector) Require(name, consumer string) (float64, error) {
	f, ok := v.Values[name]
	if !ok {
		return 0, &MissingFeatureError{Feature: name, Consumer: consumer, EngineVersion: v.EngineVersion}
	}
	return f, nil
}

// HasFlag reports whether f was raised during extraction.
func (v Vector) HasFlag(f Flag) bool {
	for _, got := range v.Meta.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// Names returns the feature names present, sorted.
func (v Vector) Names() []string {
	out := make([]string, 0, len(v.Values))
	for k := range v.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
