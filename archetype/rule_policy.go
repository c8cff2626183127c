package archetype

import (
	"fmt"
	"strings"

	"playprofile/feature"
)

// Op is a threshold comparison.
type Op string

const (
	OpGTE Op = ">="
	OpGT  Op = ">"
	OpLTE Op = "<="
	OpLT  Op = "<"
)

// Condition compares one named feature with a threshold.
// Scale normalizes the confidence margin; zero means "distance from the
// threshold to the edge of [0,1] on the passing side".
type Condition struct {
	Feature   string  `json:"feature"`
	Op        Op      `json:"op"`
	Threshold float64 `json:"threshold"`
	Scale     float64 `json:"scale,omitempty"`
}

func (c Condition) passes(v float64) bool {
	switch c.Op {
	case OpGTE:
		return v >= c.Threshold
	case OpGT:
		return v > c.Threshold
	case OpLTE:
		return v <= c.Threshold
	case OpLT:
		return v < c.Threshold
	default:
		return false
	}
}

// margin is positive on the passing side of the threshold.
func (c Condition) margin(v float64) float64 {
	switch c.Op {
	case OpGTE, OpGT:
		return v - c.Threshold
	default:
		return c.Threshold - v
	}
}

func (c Condition) scale() float64 {
	if c.Scale > 0 {
		return c.Scale
	}
	var s float64
	switch c.Op {
	case OpGTE, OpGT:
		s = 1 - c.Threshold
	default:
		s = c.Threshold
	}
	if s <= 0 {
		return 1
	}
	return s
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Feature, c.Op, c.Threshold)
}

// Rule assigns Label when every condition holds.
type Rule struct {
	Name       string      `json:"name"`
	Label      string      `json:"label"`
	Conditions []Condition `json:"conditions"`
}

func (r Rule) String() string {
	parts := make([]string, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " AND ") + " -> " + r.Label
}

// evaluate returns whether r matches and a score: the smallest normalized
// margin when it matches, otherwise the largest normalized shortfall.
func (r Rule) evaluate(values map[string]float64) (bool, float64) {
	matched := true
	minMargin := 1.0
	maxShortfall := 0.0
	for _, c := range r.Conditions {
		v := values[c.Feature]
		norm := c.margin(v) / c.scale()
		if c.passes(v) {
			if norm < minMargin {
				minMargin = norm
			}
			continue
		}
		matched = false
		if -norm > maxShortfall {
			maxShortfall = -norm
		}
	}
	if matched {
		return true, clamp01(minMargin)
	}
	return false, clamp01(maxShortfall)
}

// RuleBasedPolicy evaluates rules in order; the first match wins and
// DefaultLabel applies when none match.
type RuleBasedPolicy struct {
	PolicyVersion string
	Rules         []Rule
	DefaultLabel  string
}

const DefaultPolicyVersion = "default-v1"

// DefaultPolicy is the stock three-archetype policy.
func DefaultPolicy() *RuleBasedPolicy {
	return &RuleBasedPolicy{
		PolicyVersion: DefaultPolicyVersion,
		DefaultLabel:  LabelAveragePlayer,
		Rules: []Rule{
			{
				Name:  "aggressive_veteran",
				Label: LabelAggressiveVeteran,
				Conditions: []Condition{
					{Feature: feature.RiskScore, Op: OpGTE, Threshold: 0.8},
					{Feature: feature.IndecisionRate, Op: OpLT, Threshold: 0.2},
				},
			},
			{
				Name:  "cautious_learner",
				Label: LabelCautiousLearner,
				Conditions: []Condition{
					{Feature: feature.RiskScore, Op: OpLTE, Threshold: 0.3},
					{Feature: feature.IndecisionRate, Op: OpGTE, Threshold: 0.5},
				},
			},
		},
	}
}

func (p *RuleBasedPolicy) Version() string { return p.PolicyVersion }

// Validate checks the policy is well formed.
func (p *RuleBasedPolicy) Validate() error {
	if strings.TrimSpace(p.DefaultLabel) == "" {
		return fmt.Errorf("policy %s: default label is required", p.PolicyVersion)
	}
	for i, r := range p.Rules {
		if strings.TrimSpace(r.Label) == "" {
			return fmt.Errorf("policy %s: rule %d has no label", p.PolicyVersion, i)
		}
		for _, c := range r.Conditions {
			switch c.Op {
			case OpGTE, OpGT, OpLTE, OpLT:
			default:
				return fmt.Errorf("policy %s: rule %d: unsupported op %q", p.PolicyVersion, i, c.Op)
			}
			if strings.TrimSpace(c.Feature) == "" {
				return fmt.Errorf("policy %s: rule %d: condition has no feature", p.PolicyVersion, i)
			}
		}
	}
	return nil
}

// RequiredFeatures lists every feature the policy reads, in rule order.
func (p *RuleBasedPolicy) RequiredFeatures() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range p.Rules {
		for _, c := range r.Conditions {
			if !seen[c.Feature] {
				seen[c.Feature] = true
				out = append(out, c.Feature)
			}
		}
	}
	return out
}

// Classify implements Classifier. For the default label the confidence is
// the distance to the nearest rule: how far the vector is from matching
// anything more specific.
func (p *RuleBasedPolicy) Classify(v feature.Vector) (Archetype, error) {
	consumer := "policy " + p.PolicyVersion
	for _, name := range p.RequiredFeatures() {
		if _, err := v.Require(name, consumer); err != nil {
			return Archetype{}, err
		}
	}

	nearest := 1.0
	for i, r := range p.Rules {
		matched, score := r.evaluate(v.Values)
		if matched {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("rule_%d", i)
			}
			return Archetype{
				Label:         r.Label,
				Confidence:    score,
				PolicyVersion: p.PolicyVersion,
				Rule:          name,
			}, nil
		}
		if score < nearest {
			nearest = score
		}
	}
	return Archetype{
		Label:         p.DefaultLabel,
		Confidence:    nearest,
		PolicyVersion: p.PolicyVersion,
		Rule:          "default",
	}, nil
}
