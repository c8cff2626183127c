package feature

import (
	"errors"
	"fmt"

	"playprofile/eventlog"
	"playprofile/rules"
)

// DefaultFeatures returns the v1 feature set.
func DefaultFeatures() []Feature {
	return []Feature{
		{Name: MovementRatio, Range: RangeUnit, Compute: movementRatio},
		{Name: ActivityRatio, Range: RangeUnit, Compute: activityRatio},
		{Name: RiskScore, Range: RangeUnit, Compute: riskScore},
		{Name: IndecisionRate, Range: RangeUnit, Compute: indecisionRate},
		{Name: EfficiencyScore, Range: RangeUnit, Compute: efficiencyScore},
		{Name: RuleMasteryIndex, Range: RangeUnit, Compute: ruleMasteryIndex},
		{Name: TotalActions, Range: RangeNonNegative, Compute: totalActions},
		{Name: RuleViolations, Range: RangeNonNegative, Compute: ruleViolations},
		{Name: ActionsPerMinute, Range: RangeNonNegative, Compute: actionsPerMinute},
		{Name: SpendTotal, Range: RangeNonNegative, Compute: spendTotal},
		{Name: ZoneDifficulty, Range: RangeNonNegative, Compute: zoneDifficulty},
	}
}

func movementRatio(in Input) (Result, error) {
	return intervalRatio(in.Session, in.Overlap, func(e eventlog.Event) bool {
		return e.Type == eventlog.EventMovement
	}), nil
}

func activityRatio(in Input) (Result, error) {
	return intervalRatio(in.Session, in.Overlap, func(eventlog.Event) bool { return true }), nil
}

func riskScore(in Input) (Result, error) {
	var res Result
	var uses int
	var total float64
	for _, e := range in.Session.Events {
		if e.Type != eventlog.EventAbilityUse {
			continue
		}
		uses++
		abilityID, ok := e.PayloadString(eventlog.PayloadAbility)
		if !ok {
			res.Unresolved++
			total += rules.RiskMedium.Weight()
			res.Notes = append(res.Notes, fmt.Sprintf("ability use at %.3fs has no %s; counted as medium", e.Timestamp, eventlog.PayloadAbility))
			continue
		}
		tier, err := in.Rules.AbilityRisk(abilityID)
		if err != nil {
			var unknown *rules.UnknownAbilityError
			if !errors.As(err, &unknown) {
				return Result{}, err
			}
			res.Unresolved++
			total += rules.RiskMedium.Weight()
			res.Notes = append(res.Notes, fmt.Sprintf("ability %q not registered; counted as medium", abilityID))
			continue
		}
		total += tier.Weight()
	}
	if res.Unresolved > 0 {
		res.Flags = append(res.Flags, FlagUnresolvedAbility)
	}
	if uses > 0 {
		res.Value = total / float64(uses)
	}
	return res, nil
}

func indecisionRate(in Input) (Result, error) {
	events := in.Session.Events
	if len(events) == 0 {
		return Result{}, nil
	}
	var n int
	for _, e := range events {
		switch e.Type {
		case eventlog.EventUIClick, eventlog.EventStatCheck, eventlog.EventMenu:
			n++
		}
	}
	return Result{Value: float64(n) / float64(len(events))}, nil
}

// efficiencyScore is deliberately unclamped: a score above max_score means the
// rules and the data disagree, and that must stay visible.
func efficiencyScore(in Input) (Result, error) {
	maxScore, err := in.Rules.MaxScore()
	if err != nil {
		return Result{}, err
	}
	if maxScore <= 0 {
		return Result{}, fmt.Errorf("%s must be > 0, got %v", rules.KeyMaxScore, maxScore)
	}
	res := Result{Value: in.Session.FinalScore / maxScore}
	if res.Value > 1 {
		res.Flags = append(res.Flags, FlagScoreExceedsMax)
		res.Notes = append(res.Notes, fmt.Sprintf("final_score %v exceeds max_score %v", in.Session.FinalScore, maxScore))
	}
	return res, nil
}

// ruleMasteryIndex is vacuously perfect for a session with no actions.
func ruleMasteryIndex(in Input) (Result, error) {
	total := len(in.Session.Events)
	if total == 0 {
		return Result{Value: 1, Flags: []Flag{FlagInsufficientData}}, nil
	}
	violations := countViolations(in.Session.Events)
	return Result{Value: float64(total-violations) / float64(total)}, nil
}

func totalActions(in Input) (Result, error) {
	return Result{Value: float64(len(in.Session.Events))}, nil
}

func ruleViolations(in Input) (Result, error) {
	return Result{Value: float64(countViolations(in.Session.Events))}, nil
}

func actionsPerMinute(in Input) (Result, error) {
	n := len(in.Session.Events)
	if n == 0 {
		return Result{}, nil
	}
	duration := in.Session.Duration()
	if duration <= 0 {
		return Result{Flags: []Flag{FlagEmptyWindow}}, nil
	}
	return Result{Value: float64(n) / (duration / 60)}, nil
}

func spendTotal(in Input) (Result, error) {
	var res Result
	for _, e := range in.Session.Events {
		if e.Type != eventlog.EventPurchase {
			continue
		}
		if !in.Rules.Has(rules.KeyCosts) {
			return Result{}, &rules.UnknownRuleError{Version: in.Rules.Version(), Keys: []string{rules.KeyCosts}}
		}
		name, ok := e.PayloadString(eventlog.PayloadItem)
		if !ok {
			name, ok = e.PayloadString(eventlog.PayloadAction)
		}
		if !ok {
			res.Flags = appendFlag(res.Flags, FlagUnknownCost)
			res.Notes = append(res.Notes, fmt.Sprintf("purchase at %.3fs names no item or action", e.Timestamp))
			continue
		}
		cost, err := in.Rules.ActionCost(name)
		if err != nil {
			var unknown *rules.UnknownRuleError
			if !errors.As(err, &unknown) {
				return Result{}, err
			}
			res.Flags = appendFlag(res.Flags, FlagUnknownCost)
			res.Notes = append(res.Notes, fmt.Sprintf("no cost registered for %q", name))
			continue
		}
		res.Value += cost * quantity(e)
	}
	return res, nil
}

func zoneDifficulty(in Input) (Result, error) {
	var res Result
	var n int
	var total float64
	for _, e := range in.Session.Events {
		zone, ok := e.PayloadString(eventlog.PayloadZone)
		if !ok {
			continue
		}
		if !in.Rules.Has(rules.KeyZoneDifficulty) {
			return Result{}, &rules.UnknownRuleError{Version: in.Rules.Version(), Keys: []string{rules.KeyZoneDifficulty}}
		}
		factor, err := in.Rules.ZoneDifficulty(zone)
		if err != nil {
			var unknown *rules.UnknownRuleError
			if !errors.As(err, &unknown) {
				return Result{}, err
			}
			res.Flags = appendFlag(res.Flags, FlagUnknownZone)
			res.Notes = append(res.Notes, fmt.Sprintf("no difficulty registered for zone %q", zone))
			continue
		}
		n++
		total += factor
	}
	if n > 0 {
		res.Value = total / float64(n)
	}
	return res, nil
}

func countViolations(events []eventlog.Event) int {
	n := 0
	for _, e := range events {
		if e.Outcome == eventlog.OutcomeFailureDueToRule {
			n++
		}
	}
	return n
}

func quantity(e eventlog.Event) float64 {
	switch q := e.Payload["quantity"].(type) {
	case float64:
		if q > 0 {
			return q
		}
	case int:
		if q > 0 {
			return float64(q)
		}
	}
	return 1
}

func appendFlag(flags []Flag, f Flag) []Flag {
	for _, got := range flags {
		if got == f {
			return flags
		}
	}
	return append(flags, f)
}
