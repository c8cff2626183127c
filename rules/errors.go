package rules

import (
	"fmt"
	"strings"
)

// UnknownRuleError is returned when a key is absent from the RuleSet.
type UnknownRuleError struct {
	Version string
	Keys    []string
}

func (e *UnknownRuleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unknown rule(version=%s): %s", e.Version, strings.Join(e.Keys, ", "))
}

// UnknownAbilityError is returned when an ability has no registered risk tier.
type UnknownAbilityError struct {
	Version   string
	AbilityID string
}

func (e *UnknownAbilityError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unknown ability(version=%s): %s", e.Version, e.AbilityID)
}

// RuleTypeError is returned when a rule exists but holds a value of the wrong shape.
type RuleTypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *RuleTypeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rule %s: want %s, got %T", e.Key, e.Want, e.Got)
}
