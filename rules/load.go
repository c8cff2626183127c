package rules

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parse builds a RuleSet from a JSON object. Required keys are not checked
// here; a missing key surfaces as UnknownRuleError on first access.
func Parse(data []byte) (*RuleSet, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ruleset JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parse ruleset JSON: expected an object")
	}
	return New(raw), nil
}

// LoadFile reads and parses a RuleSet JSON file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset file: %w", err)
	}
	return Parse(data)
}
