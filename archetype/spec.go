package archetype

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Policy kinds accepted by ParsePolicy.
const (
	KindRules   = "rules"
	KindLearned = "learned"
)

// PolicySpec is the serialized form of a classifier: a tagged variant
// selecting either an ordered rule list or a learned linear model.
type PolicySpec struct {
	Kind         string        `json:"kind"`
	Version      string        `json:"version"`
	DefaultLabel string        `json:"default_label,omitempty"`
	Rules        []Rule        `json:"rules,omitempty"`
	Classes      []LinearClass `json:"classes,omitempty"`
}

// Build turns the spec into a validated Classifier.
func (s PolicySpec) Build() (Classifier, error) {
	version := strings.TrimSpace(s.Version)
	if version == "" {
		return nil, fmt.Errorf("policy version is required")
	}
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "", KindRules:
		p := &RuleBasedPolicy{
			PolicyVersion: version,
			Rules:         append([]Rule(nil), s.Rules...),
			DefaultLabel:  s.DefaultLabel,
		}
		if p.DefaultLabel == "" {
			p.DefaultLabel = LabelAveragePlayer
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return p, nil
	case KindLearned:
		m := &LearnedModelPolicy{
			ModelVersion: version,
			Classes:      append([]LinearClass(nil), s.Classes...),
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown policy kind %q (supported: %s, %s)", s.Kind, KindRules, KindLearned)
	}
}

// SpecOf returns the serializable form of a built-in classifier.
func SpecOf(c Classifier) (PolicySpec, error) {
	switch p := c.(type) {
	case *RuleBasedPolicy:
		return PolicySpec{Kind: KindRules, Version: p.PolicyVersion, DefaultLabel: p.DefaultLabel, Rules: p.Rules}, nil
	case *LearnedModelPolicy:
		return PolicySpec{Kind: KindLearned, Version: p.ModelVersion, Classes: p.Classes}, nil
	default:
		return PolicySpec{}, fmt.Errorf("classifier %T has no serialized form", c)
	}
}

// ParsePolicy decodes a PolicySpec JSON document into a Classifier.
func ParsePolicy(data []byte) (Classifier, error) {
	var spec PolicySpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse policy JSON: %w", err)
	}
	return spec.Build()
}

// LoadPolicyFile reads a policy from disk.
func LoadPolicyFile(path string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}
