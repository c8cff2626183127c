package rules

import (
	"encoding/json"
	"math"
	"sort"
)

// RuleSet is an immutable snapshot of game constants for one game version.
// All values are deep-copied on construction and on the way out, so a RuleSet
// can be shared between goroutines without locking.
type RuleSet struct {
	version string
	values  map[string]any
}

// New builds a RuleSet from raw values. The version is taken from the
// "ruleset_version" key when present.
func New(values map[string]any) *RuleSet {
	rs := &RuleSet{values: make(map[string]any, len(values))}
	for k, v := range values {
		rs.values[k] = copyValue(v)
	}
	if v, ok := rs.values[KeyVersion].(string); ok {
		rs.version = v
	}
	return rs
}

// Version returns the ruleset_version tag ("" when untagged).
func (rs *RuleSet) Version() string {
	if rs == nil {
		return ""
	}
	return rs.version
}

// Has reports whether key is present.
func (rs *RuleSet) Has(key string) bool {
	if rs == nil {
		return false
	}
	_, ok := rs.values[key]
	return ok
}

// Keys returns all rule keys in sorted order.
func (rs *RuleSet) Keys() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, 0, len(rs.values))
	for k := range rs.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns a copy of the value stored under key.
func (rs *RuleSet) Get(key string) (any, error) {
	if rs == nil {
		return nil, &UnknownRuleError{Keys: []string{key}}
	}
	v, ok := rs.values[key]
	if !ok {
		return nil, &UnknownRuleError{Version: rs.version, Keys: []string{key}}
	}
	return copyValue(v), nil
}

// GetFloat returns a numeric rule.
func (rs *RuleSet) GetFloat(key string) (float64, error) {
	v, err := rs.Get(key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, &RuleTypeError{Key: key, Want: "number", Got: v}
	}
	return f, nil
}

// GetString returns a string rule.
func (rs *RuleSet) GetString(key string) (string, error) {
	v, err := rs.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &RuleTypeError{Key: key, Want: "string", Got: v}
	}
	return s, nil
}

func (rs *RuleSet) MaxScore() (float64, error) { return rs.GetFloat(KeyMaxScore) }

func (rs *RuleSet) MaxLevel() (float64, error) { return rs.GetFloat(KeyMaxLevel) }

// AbilityRisk resolves the risk tier registered for abilityID.
func (rs *RuleSet) AbilityRisk(abilityID string) (RiskTier, error) {
	raw, err := rs.lookupTable(KeyAbilityRiskTiers, abilityID)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, &UnknownAbilityError{Version: rs.version, AbilityID: abilityID}
	}
	s, ok := raw.(string)
	if !ok {
		return 0, &RuleTypeError{Key: KeyAbilityRiskTiers + "." + abilityID, Want: "risk tier", Got: raw}
	}
	tier, err := ParseRiskTier(s)
	if err != nil {
		return 0, &RuleTypeError{Key: KeyAbilityRiskTiers + "." + abilityID, Want: "risk tier", Got: raw}
	}
	return tier, nil
}

// ActionCost returns the cost table entry for action.
func (rs *RuleSet) ActionCost(action string) (float64, error) {
	return rs.tableFloat(KeyCosts, action)
}

// ZoneDifficulty returns the difficulty scaling factor for zone.
func (rs *RuleSet) ZoneDifficulty(zone string) (float64, error) {
	return rs.tableFloat(KeyZoneDifficulty, zone)
}

// Require checks all keys eagerly and reports every missing one at once.
func (rs *RuleSet) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !rs.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &UnknownRuleError{Version: rs.Version(), Keys: missing}
	}
	return nil
}

// MarshalJSON renders the RuleSet back to its configuration form.
func (rs *RuleSet) MarshalJSON() ([]byte, error) {
	if rs == nil {
		return []byte("null"), nil
	}
	return json.Marshal(rs.values)
}

func (rs *RuleSet) tableFloat(table, entry string) (float64, error) {
	raw, err := rs.lookupTable(table, entry)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, &UnknownRuleError{Version: rs.version, Keys: []string{table + "." + entry}}
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, &RuleTypeError{Key: table + "." + entry, Want: "number", Got: raw}
	}
	return f, nil
}

// lookupTable returns (nil, nil) when the table exists but entry does not.
func (rs *RuleSet) lookupTable(table, entry string) (any, error) {
	if rs == nil {
		return nil, &UnknownRuleError{Keys: []string{table}}
	}
	v, ok := rs.values[table]
	if !ok {
		return nil, &UnknownRuleError{Version: rs.version, Keys: []string{table}}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &RuleTypeError{Key: table, Want: "object", Got: v}
	}
	return m[entry], nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return v
	}
}
