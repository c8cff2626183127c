package metrics

import "time"

// Trend is the direction of change in rule mastery across sessions.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Status is a player's longitudinal tracking state. A player moves from
// insufficient to tracked at the second session and never moves back.
type Status string

const (
	StatusInsufficient Status = "insufficient"
	StatusTracked      Status = "tracked"
)

// Report flags.
const (
	FlagNormalizedAboveOne    = "normalized_score_exceeds_one"
	FlagNormalizedUnavailable = "normalized_score_unavailable"
	FlagForeignHistory        = "foreign_history_skipped"
	FlagInsufficientHistory   = "insufficient_history"
)

// Report is the performance report for one session. Longitudinal fields are
// nil when there is not enough history; nil means "unknown", not "no change".
type Report struct {
	PlayerID           string    `json:"player_id"`
	SessionID          string    `json:"session_id"`
	RulesetVersion     string    `json:"ruleset_version,omitempty"`
	FinalScore         float64   `json:"final_score"`
	NormalizedScore    *float64  `json:"normalized_score,omitempty"`
	RuleMasteryIndex   float64   `json:"rule_mastery_index"`
	EnhancementRate    *float64  `json:"enhancement_rate,omitempty"`
	Trend              *Trend    `json:"trend,omitempty"`
	BaselineSessionID  string    `json:"baseline_session_id,omitempty"`
	SessionsConsidered int       `json:"sessions_considered"`
	Status             Status    `json:"status"`
	Archetype          string    `json:"archetype,omitempty"`
	Flags              []string  `json:"flags,omitempty"`
	EvaluatedAt        time.Time `json:"evaluated_at"`
}

// HasFlag reports whether flag is set on the report.
func (r Report) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
