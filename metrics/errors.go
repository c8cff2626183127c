package metrics

import "fmt"

// RuleMissingError means one metric could not be computed because the
// RuleSet lacks a constant. Other metrics in the same report are still set.
type RuleMissingError struct {
	Metric string
	Key    string
	Cause  error
}

func (e *RuleMissingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("metric %s: rule %s unavailable: %v", e.Metric, e.Key, e.Cause)
	}
	return fmt.Sprintf("metric %s: rule %s unavailable", e.Metric, e.Key)
}

func (e *RuleMissingError) Unwrap() error { return e.Cause }

// PlayerMismatchError is returned when appending another player's report.
type PlayerMismatchError struct {
	Want string
	Got  string
}

func (e *PlayerMismatchError) Error() string {
	return fmt.Sprintf("history belongs to player %q, got report for %q", e.Want, e.Got)
}
