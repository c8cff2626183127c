package archetype

import "playprofile/feature"

// Archetype labels of the default policy.
const (
	LabelAggressiveVeteran = "Aggressive Veteran"
	LabelCautiousLearner   = "Cautious Learner"
	LabelAveragePlayer     = "Average Player"
)

// Archetype is a behavioral classification for one session.
type Archetype struct {
	Label         string  `json:"label"`
	Confidence    float64 `json:"confidence"`
	PolicyVersion string  `json:"policy_version"`
	Rule          string  `json:"rule"`
}

// Classifier maps a feature vector to an archetype. Implementations must be
// deterministic and safe for concurrent use.
type Classifier interface {
	// Classify fails with *feature.MissingFeatureError when the vector lacks
	// a feature the classifier reads.
	Classify(v feature.Vector) (Archetype, error)
	// Version identifies the policy or model that produced a label.
	Version() string
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
