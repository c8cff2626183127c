package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"playprofile/archetype"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testEngine(cfg Config) *Engine {
	return NewEngine(cfg, WithClock(func() time.Time { return fixedNow }))
}

func session(id string, final float64) eventlog.Session {
	return eventlog.Session{
		PlayerID:       "p1",
		SessionID:      id,
		RulesetVersion: "r1",
		StartTime:      0,
		EndTime:        100,
		FinalScore:     final,
	}
}

func vector(rmi float64) feature.Vector {
	return feature.Vector{
		EngineVersion: feature.EngineVersion,
		Values:        map[string]float64{feature.RuleMasteryIndex: rmi},
	}
}

func ruleset() *rules.RuleSet {
	return rules.New(map[string]any{
		rules.KeyVersion:  "r1",
		rules.KeyMaxScore: 510.0,
	})
}

func TestEvaluate_FirstSessionIsInsufficient(t *testing.T) {
	e := testEngine(DefaultConfig())

	r, err := e.Evaluate(session("s1", 500), vector(0.98), ruleset(), NewHistory("p1"), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusInsufficient, r.Status)
	assert.Nil(t, r.EnhancementRate)
	assert.Nil(t, r.Trend)
	assert.Equal(t, 1, r.SessionsConsidered)
	assert.True(t, r.HasFlag(FlagInsufficientHistory))
	require.NotNil(t, r.NormalizedScore)
	assert.InDelta(t, 0.9804, *r.NormalizedScore, 1e-4)
	assert.Equal(t, fixedNow, r.EvaluatedAt)
}

func TestEvaluate_NilHistoryBehavesLikeEmpty(t *testing.T) {
	e := testEngine(DefaultConfig())

	r, err := e.Evaluate(session("s1", 10), vector(0.5), ruleset(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficient, r.Status)
	assert.Nil(t, r.EnhancementRate)
}

func TestEvaluate_Improving(t *testing.T) {
	e := testEngine(DefaultConfig())
	h := NewHistory("p1", Report{PlayerID: "p1", SessionID: "s0", RuleMasteryIndex: 0.65})

	r, err := e.Evaluate(session("s1", 500), vector(0.98), ruleset(), h, nil)
	require.NoError(t, err)

	require.NotNil(t, r.EnhancementRate)
	assert.InDelta(t, 0.33, *r.EnhancementRate, 1e-9)
	require.NotNil(t, r.Trend)
	assert.Equal(t, TrendImproving, *r.Trend)
	assert.Equal(t, StatusTracked, r.Status)
	assert.Equal(t, "s0", r.BaselineSessionID)
	assert.Equal(t, 2, r.SessionsConsidered)
}

func TestEvaluate_TrendEpsilon(t *testing.T) {
	e := testEngine(DefaultConfig())
	tests := []struct {
		name    string
		current float64
		want    Trend
	}{
		{"inside dead band above", 0.51, TrendStable},
		{"inside dead band below", 0.49, TrendStable},
		{"improving", 0.60, TrendImproving},
		{"declining", 0.40, TrendDeclining},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory("p1", Report{PlayerID: "p1", SessionID: "s0", RuleMasteryIndex: 0.5})
			r, err := e.Evaluate(session("s1", 0), vector(tt.current), ruleset(), h, nil)
			require.NoError(t, err)
			require.NotNil(t, r.Trend)
			assert.Equal(t, tt.want, *r.Trend)
		})
	}
}

func TestEvaluate_WindowSelectsBaseline(t *testing.T) {
	prior := []Report{
		{PlayerID: "p1", SessionID: "s0", RuleMasteryIndex: 0.10},
		{PlayerID: "p1", SessionID: "s1", RuleMasteryIndex: 0.40},
		{PlayerID: "p1", SessionID: "s2", RuleMasteryIndex: 0.60},
		{PlayerID: "p1", SessionID: "s3", RuleMasteryIndex: 0.70},
	}

	all := testEngine(DefaultConfig())
	r, err := all.Evaluate(session("s4", 0), vector(0.80), ruleset(), NewHistory("p1", prior...), nil)
	require.NoError(t, err)
	assert.Equal(t, "s0", r.BaselineSessionID)
	assert.InDelta(t, 0.70, *r.EnhancementRate, 1e-9)
	assert.Equal(t, 5, r.SessionsConsidered)

	windowed := testEngine(Config{Window: 2, Epsilon: 0.02})
	r, err = windowed.Evaluate(session("s4", 0), vector(0.80), ruleset(), NewHistory("p1", prior...), nil)
	require.NoError(t, err)
	assert.Equal(t, "s2", r.BaselineSessionID)
	assert.InDelta(t, 0.20, *r.EnhancementRate, 1e-9)
	assert.Equal(t, 3, r.SessionsConsidered)
}

func TestEvaluate_MissingMaxScore(t *testing.T) {
	e := testEngine(DefaultConfig())
	rs := rules.New(map[string]any{rules.KeyVersion: "r1"})
	h := NewHistory("p1", Report{PlayerID: "p1", SessionID: "s0", RuleMasteryIndex: 0.5})

	r, err := e.Evaluate(session("s1", 100), vector(0.9), rs, h, nil)
	require.Error(t, err)

	var rme *RuleMissingError
	require.True(t, errors.As(err, &rme))
	assert.Equal(t, rules.KeyMaxScore, rme.Key)
	assert.Equal(t, "normalized_score", rme.Metric)

	// the rest of the report is still filled
	assert.Nil(t, r.NormalizedScore)
	assert.True(t, r.HasFlag(FlagNormalizedUnavailable))
	assert.Equal(t, 100.0, r.FinalScore)
	assert.InDelta(t, 0.9, r.RuleMasteryIndex, 1e-9)
	require.NotNil(t, r.EnhancementRate)
	assert.InDelta(t, 0.4, *r.EnhancementRate, 1e-9)
}

func TestEvaluate_MissingRuleMasteryIndex(t *testing.T) {
	e := testEngine(DefaultConfig())
	v := feature.Vector{EngineVersion: "v1", Values: map[string]float64{}}

	_, err := e.Evaluate(session("s1", 100), v, ruleset(), nil, nil)
	var mfe *feature.MissingFeatureError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, feature.RuleMasteryIndex, mfe.Feature)
}

func TestEvaluate_NormalizedAboveOneIsFlagged(t *testing.T) {
	e := testEngine(DefaultConfig())

	r, err := e.Evaluate(session("s1", 600), vector(0.9), ruleset(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, r.NormalizedScore)
	assert.Greater(t, *r.NormalizedScore, 1.0)
	assert.True(t, r.HasFlag(FlagNormalizedAboveOne))
}

func TestEvaluate_CopiesArchetypeLabel(t *testing.T) {
	e := testEngine(DefaultConfig())
	arch := &archetype.Archetype{Label: archetype.LabelCautiousLearner, Confidence: 0.5}

	r, err := e.Evaluate(session("s1", 1), vector(0.5), ruleset(), nil, arch)
	require.NoError(t, err)
	assert.Equal(t, archetype.LabelCautiousLearner, r.Archetype)
}

func TestEvaluate_SkipsForeignHistory(t *testing.T) {
	e := testEngine(DefaultConfig())
	h := NewHistory("", Report{PlayerID: "someone-else", SessionID: "x", RuleMasteryIndex: 0.1})

	r, err := e.Evaluate(session("s1", 1), vector(0.5), ruleset(), h, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficient, r.Status)
	assert.True(t, r.HasFlag(FlagForeignHistory))
}

func TestStatusNeverRegresses(t *testing.T) {
	e := testEngine(DefaultConfig())
	h := NewHistory("p1")

	var seenTracked bool
	for i, rmi := range []float64{0.5, 0.3, 0.9, 0.1, 0.1} {
		r, err := e.Evaluate(session(string(rune('a'+i)), 1), vector(rmi), ruleset(), h, nil)
		require.NoError(t, err)
		if seenTracked {
			assert.Equal(t, StatusTracked, r.Status)
		}
		if r.Status == StatusTracked {
			seenTracked = true
		}
		require.NoError(t, h.Append(r))
	}
	assert.True(t, seenTracked)
	assert.Equal(t, StatusTracked, Summarize("p1", h.Snapshot()).Status)
}

func TestHistory_AppendRejectsOtherPlayer(t *testing.T) {
	h := NewHistory("p1")
	err := h.Append(Report{PlayerID: "p2"})

	var pme *PlayerMismatchError
	require.True(t, errors.As(err, &pme))
	assert.Equal(t, 0, h.Len())
}

func TestHistory_SnapshotIsIsolated(t *testing.T) {
	rate := 0.2
	h := NewHistory("p1")
	require.NoError(t, h.Append(Report{PlayerID: "p1", SessionID: "s0", EnhancementRate: &rate, Flags: []string{"a"}}))

	snap := h.Snapshot()
	*snap[0].EnhancementRate = 9
	snap[0].Flags[0] = "mutated"
	require.NoError(t, h.Append(Report{PlayerID: "p1", SessionID: "s1"}))

	assert.Len(t, snap, 1)
	again := h.Snapshot()
	assert.Equal(t, 0.2, *again[0].EnhancementRate)
	assert.Equal(t, "a", again[0].Flags[0])
}

func TestHistory_ConcurrentAppend(t *testing.T) {
	h := NewHistory("p1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Append(Report{PlayerID: "p1"})
			_ = h.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, h.Len())
}

func TestSummarize(t *testing.T) {
	s := Summarize("p1", nil)
	assert.Equal(t, StatusInsufficient, s.Status)
	assert.Nil(t, s.Latest)

	s = Summarize("p1", []Report{{SessionID: "a"}, {SessionID: "b"}})
	assert.Equal(t, StatusTracked, s.Status)
	require.NotNil(t, s.Latest)
	assert.Equal(t, "b", s.Latest.SessionID)
}
