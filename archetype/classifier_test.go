package archetype

import (
	"encoding/json"
	"errors"
	"testing"

	"playprofile/feature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(values map[string]float64) feature.Vector {
	return feature.Vector{EngineVersion: feature.EngineVersion, Values: values}
}

func TestDefaultPolicy_Scenarios(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name      string
		risk      float64
		indecision float64
		label     string
		rule      string
	}{
		{"aggressive", 0.95, 0.05, LabelAggressiveVeteran, "aggressive_veteran"},
		{"cautious", 0.10, 0.75, LabelCautiousLearner, "cautious_learner"},
		{"risk too high for cautious", 0.40, 0.70, LabelAveragePlayer, "default"},
		{"indecisive veteran", 0.90, 0.20, LabelAveragePlayer, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Classify(vec(map[string]float64{
				feature.RiskScore:      tt.risk,
				feature.IndecisionRate: tt.indecision,
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.rule, got.Rule)
			assert.Equal(t, DefaultPolicyVersion, got.PolicyVersion)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestDefaultPolicy_Confidence(t *testing.T) {
	policy := DefaultPolicy()

	got, err := policy.Classify(vec(map[string]float64{feature.RiskScore: 0.95, feature.IndecisionRate: 0.05}))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)

	// exactly on the boundary
	got, err = policy.Classify(vec(map[string]float64{feature.RiskScore: 0.8, feature.IndecisionRate: 0.0}))
	require.NoError(t, err)
	assert.Equal(t, LabelAggressiveVeteran, got.Label)
	assert.InDelta(t, 0.0, got.Confidence, 1e-9)

	// far from the boundary
	got, err = policy.Classify(vec(map[string]float64{feature.RiskScore: 1.0, feature.IndecisionRate: 0.0}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)

	// default: nearest rule is cautious, missed by (0.40-0.30)/0.30
	got, err = policy.Classify(vec(map[string]float64{feature.RiskScore: 0.40, feature.IndecisionRate: 0.70}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, got.Confidence, 1e-9)
}

func TestRuleBasedPolicy_IsDeterministic(t *testing.T) {
	policy := DefaultPolicy()
	v := vec(map[string]float64{feature.RiskScore: 0.85, feature.IndecisionRate: 0.1})
	first, err := policy.Classify(v)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		got, err := policy.Classify(v)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestRuleBasedPolicy_FirstMatchWins(t *testing.T) {
	policy := &RuleBasedPolicy{
		PolicyVersion: "order-test",
		DefaultLabel:  "none",
		Rules: []Rule{
			{Name: "broad", Label: "Broad", Conditions: []Condition{{Feature: feature.RiskScore, Op: OpGTE, Threshold: 0.1}}},
			{Name: "narrow", Label: "Narrow", Conditions: []Condition{{Feature: feature.RiskScore, Op: OpGTE, Threshold: 0.9}}},
		},
	}
	got, err := policy.Classify(vec(map[string]float64{feature.RiskScore: 0.95}))
	require.NoError(t, err)
	assert.Equal(t, "Broad", got.Label)

	policy.Rules[0], policy.Rules[1] = policy.Rules[1], policy.Rules[0]
	got, err = policy.Classify(vec(map[string]float64{feature.RiskScore: 0.95}))
	require.NoError(t, err)
	assert.Equal(t, "Narrow", got.Label)
}

func TestRuleBasedPolicy_MissingFeature(t *testing.T) {
	// the first rule would already fail on risk_score, but the check covers
	// every feature the policy references
	_, err := DefaultPolicy().Classify(vec(map[string]float64{feature.RiskScore: 0.1}))
	var missing *feature.MissingFeatureError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, feature.IndecisionRate, missing.Feature)
}

func TestRuleBasedPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.Rules[0].Conditions[0].Op = "=="
	require.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.DefaultLabel = ""
	require.Error(t, bad.Validate())
}

func testModel() *LearnedModelPolicy {
	return &LearnedModelPolicy{
		ModelVersion: "logit-test",
		Classes: []LinearClass{
			{Label: LabelAggressiveVeteran, Bias: -2, Weights: map[string]float64{feature.RiskScore: 6, feature.IndecisionRate: -4}},
			{Label: LabelCautiousLearner, Bias: -2, Weights: map[string]float64{feature.RiskScore: -4, feature.IndecisionRate: 6}},
			{Label: LabelAveragePlayer, Bias: 0.5},
		},
	}
}

func TestLearnedModelPolicy_SameContract(t *testing.T) {
	var c Classifier = testModel()
	require.NoError(t, testModel().Validate())

	got, err := c.Classify(vec(map[string]float64{feature.RiskScore: 0.95, feature.IndecisionRate: 0.05}))
	require.NoError(t, err)
	assert.Equal(t, LabelAggressiveVeteran, got.Label)
	assert.Equal(t, "logit-test", got.PolicyVersion)
	assert.Greater(t, got.Confidence, 0.5)
	assert.LessOrEqual(t, got.Confidence, 1.0)

	got, err = c.Classify(vec(map[string]float64{feature.RiskScore: 0.1, feature.IndecisionRate: 0.9}))
	require.NoError(t, err)
	assert.Equal(t, LabelCautiousLearner, got.Label)

	_, err = c.Classify(vec(map[string]float64{feature.RiskScore: 0.1}))
	var missing *feature.MissingFeatureError
	require.True(t, errors.As(err, &missing))
}

func TestLearnedModelPolicy_UniformWhenWeightsEqual(t *testing.T) {
	m := &LearnedModelPolicy{
		ModelVersion: "flat",
		Classes:      []LinearClass{{Label: "A"}, {Label: "B"}},
	}
	got, err := m.Classify(vec(nil))
	require.NoError(t, err)
	assert.Equal(t, "A", got.Label)
	assert.InDelta(t, 0.5, got.Confidence, 1e-12)
}

func TestParsePolicy_TaggedVariants(t *testing.T) {
	spec, err := SpecOf(DefaultPolicy())
	require.NoError(t, err)
	raw, err := json.Marshal(spec)
	require.NoError(t, err)

	c, err := ParsePolicy(raw)
	require.NoError(t, err)
	rules, ok := c.(*RuleBasedPolicy)
	require.True(t, ok)
	assert.Equal(t, DefaultPolicy(), rules)

	modelSpec, err := SpecOf(testModel())
	require.NoError(t, err)
	raw, err = json.Marshal(modelSpec)
	require.NoError(t, err)
	c, err = ParsePolicy(raw)
	require.NoError(t, err)
	_, ok = c.(*LearnedModelPolicy)
	require.True(t, ok)
	assert.Equal(t, "logit-test", c.Version())

	_, err = ParsePolicy([]byte(`{"kind":"oracle","version":"x"}`))
	require.Error(t, err)
	_, err = ParsePolicy([]byte(`{"kind":"rules"}`))
	require.Error(t, err)
}
