package archetype

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"playprofile/feature"
)

// LinearClass is one label's weights in a multinomial logistic model.
type LinearClass struct {
	Label   string             `json:"label"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// LearnedModelPolicy classifies with a softmax over linear scores. The label
// is the most probable class and the confidence is its probability. Ties go
// to the earlier class.
type LearnedModelPolicy struct {
	ModelVersion string
	Classes      []LinearClass
}

func (m *LearnedModelPolicy) Version() string { return m.ModelVersion }

func (m *LearnedModelPolicy) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("model %s: at least one class is required", m.ModelVersion)
	}
	seen := make(map[string]bool, len(m.Classes))
	for i, c := range m.Classes {
		label := strings.TrimSpace(c.Label)
		if label == "" {
			return fmt.Errorf("model %s: class %d has no label", m.ModelVersion, i)
		}
		if seen[label] {
			return fmt.Errorf("model %s: duplicate class %q", m.ModelVersion, label)
		}
		seen[label] = true
		for name, w := range c.Weights {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("model %s: class %q weight %s is not finite", m.ModelVersion, label, name)
			}
		}
	}
	return nil
}

// RequiredFeatures lists every weighted feature, sorted.
func (m *LearnedModelPolicy) RequiredFeatures() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range m.Classes {
		for name := range c.Weights {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (m *LearnedModelPolicy) Classify(v feature.Vector) (Archetype, error) {
	if len(m.Classes) == 0 {
		return Archetype{}, fmt.Errorf("model %s has no classes", m.ModelVersion)
	}
	consumer := "model " + m.ModelVersion
	for _, name := range m.RequiredFeatures() {
		if _, err := v.Require(name, consumer); err != nil {
			return Archetype{}, err
		}
	}

	logits := make([]float64, len(m.Classes))
	best := 0
	for i, c := range m.Classes {
		z := c.Bias
		for _, name := range sortedKeys(c.Weights) {
			z += c.Weights[name] * v.Values[name]
		}
		logits[i] = z
		if z > logits[best] {
			best = i
		}
	}

	// softmax, shifted by the max logit for stability
	var denom float64
	for _, z := range logits {
		denom += math.Exp(z - logits[best])
	}
	return Archetype{
		Label:         m.Classes[best].Label,
		Confidence:    clamp01(1 / denom),
		PolicyVersion: m.ModelVersion,
		Rule:          "softmax",
	}, nil
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
