package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"playprofile/archetype"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionJSON = `{
  "player_id": "p1",
  "session_id": "s1",
  "ruleset_version": "r1",
  "start_time": 0,
  "end_time": 60,
  "final_score": 400,
  "events": [
    {"timestamp": 1, "event_type": "Ability_Use", "payload": {"ability_id": "fireball"}},
    {"timestamp": 2, "event_type": "Ability_Use", "payload": {"ability_id": "fireball"}, "outcome": "failure_due_to_rule"}
  ]
}`

const rulesJSON = `{"ruleset_version": "r1", "max_score": 500, "ability_risk_tiers": {"fireball": "high"}}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseConfig(t *testing.T) {
	fs := flag.NewFlagSet("profilecli", flag.ContinueOnError)
	cfg, err := parseConfig(fs, []string{"-session", "s.json", "-rules", "r.json", "-window", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Window)
	assert.Equal(t, 0.02, cfg.Epsilon)
	assert.Equal(t, "union", cfg.Overlap)

	_, err = parseConfig(flag.NewFlagSet("profilecli", flag.ContinueOnError), []string{"-rules", "r.json"})
	assert.Error(t, err)

	_, err = parseConfig(flag.NewFlagSet("profilecli", flag.ContinueOnError), []string{"-session", "s.json"})
	assert.Error(t, err)

	_, err = parseConfig(flag.NewFlagSet("profilecli", flag.ContinueOnError), []string{"-session", "s.json", "-rules", "r.json", "-overlap", "max"})
	assert.Error(t, err)
}

func TestRun_AnalyzesSession(t *testing.T) {
	dir := t.TempDir()
	history, err := json.Marshal([]metrics.Report{{PlayerID: "p1", SessionID: "s0", RuleMasteryIndex: 0.2}})
	require.NoError(t, err)

	cfg := config{
		SessionPath: writeFile(t, dir, "session.json", sessionJSON),
		RulesPath:   writeFile(t, dir, "rules.json", rulesJSON),
		HistoryPath: writeFile(t, dir, "history.json", string(history)),
		Epsilon:     0.02,
		Overlap:     "union",
	}
	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out, &errOut))

	var got output
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.True(t, got.OK, got.Error)
	require.NotNil(t, got.Result)
	require.NotNil(t, got.Result.Archetype)
	assert.Equal(t, archetype.LabelAggressiveVeteran, got.Result.Archetype.Label)
	assert.Equal(t, metrics.StatusTracked, got.Result.Report.Status)
	require.NotNil(t, got.Result.Report.EnhancementRate)
	assert.InDelta(t, 0.3, *got.Result.Report.EnhancementRate, 1e-9)
}

func TestRun_WireInputAndRulesDir(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.Mkdir(rulesDir, 0o755))
	writeFile(t, rulesDir, "r1.json", rulesJSON)

	s, err := eventlog.ParseSession([]byte(sessionJSON))
	require.NoError(t, err)
	wire, err := eventlog.ToWireSession(s)
	require.NoError(t, err)
	raw, err := json.Marshal(wire)
	require.NoError(t, err)

	cfg := config{
		SessionPath: writeFile(t, dir, "session.wire.json", string(raw)),
		WireInput:   true,
		RulesDir:    rulesDir,
		Epsilon:     0.02,
		Overlap:     "sum",
	}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out, &bytes.Buffer{}))

	var got output
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.True(t, got.OK, got.Error)
	assert.Equal(t, metrics.StatusInsufficient, got.Result.Report.Status)
	assert.InDelta(t, 0.5, got.Result.Report.RuleMasteryIndex, 1e-9)
}

func TestRun_PartialResultStillPrinted(t *testing.T) {
	dir := t.TempDir()
	cfg := config{
		SessionPath: writeFile(t, dir, "session.json", sessionJSON),
		RulesPath:   writeFile(t, dir, "rules.json", `{"ruleset_version": "r1", "ability_risk_tiers": {"fireball": "high"}}`),
		Epsilon:     0.02,
		Overlap:     "union",
	}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out, &bytes.Buffer{}))

	var got output
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.False(t, got.OK)
	assert.Contains(t, got.Error, "max_score")
	require.NotNil(t, got.Result)
	assert.Nil(t, got.Result.Report.NormalizedScore)
}

func TestRun_InvalidSession(t *testing.T) {
	dir := t.TempDir()
	cfg := config{
		SessionPath: writeFile(t, dir, "session.json", `{"session_id": "s1", "start_time": 0, "end_time": 1}`),
		RulesPath:   writeFile(t, dir, "rules.json", rulesJSON),
		Overlap:     "union",
	}
	err := run(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	var se *eventlog.SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "missing_player", se.Reason)
}

func TestRun_LowercaseEventTypes(t *testing.T) {
	dir := t.TempDir()
	session := `{
  "player_id": "p1",
  "session_id": "s1",
  "start_time": 0,
  "end_time": 60,
  "final_score": 400,
  "events": [
    {"timestamp": 1, "event_type": "ability_use", "payload": {"ability_id": "fireball"}},
    {"timestamp": 2, "event_type": "ABILITY_USE", "payload": {"ability_id": "fireball"}}
  ]
}`
	cfg := config{
		SessionPath: writeFile(t, dir, "session.json", session),
		RulesPath:   writeFile(t, dir, "rules.json", rulesJSON),
		Epsilon:     0.02,
		Overlap:     "union",
	}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out, &bytes.Buffer{}))

	var got output
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.True(t, got.OK, got.Error)
	assert.InDelta(t, 1.0, got.Result.Vector.Values[feature.RiskScore], 1e-9)
	require.NotNil(t, got.Result.Archetype)
	assert.Equal(t, archetype.LabelAggressiveVeteran, got.Result.Archetype.Label)
}

func TestRun_UnknownEventTypeRejected(t *testing.T) {
	dir := t.TempDir()
	session := `{"player_id": "p1", "session_id": "s1", "start_time": 0, "end_time": 1,
  "events": [{"timestamp": 0.5, "event_type": "Teleport"}]}`
	cfg := config{
		SessionPath: writeFile(t, dir, "session.json", session),
		RulesPath:   writeFile(t, dir, "rules.json", rulesJSON),
		Overlap:     "union",
	}
	err := run(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	var se *eventlog.SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unknown_event_type", se.Reason)
}

func TestRun_MissingFeatureIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := config{
		SessionPath: writeFile(t, dir, "session.json", sessionJSON),
		RulesPath:   writeFile(t, dir, "rules.json", `{"ruleset_version": "r1", "max_score": 500}`),
		Epsilon:     0.02,
		Overlap:     "union",
	}
	var out bytes.Buffer
	err := run(context.Background(), cfg, &out, &bytes.Buffer{})
	var mfe *feature.MissingFeatureError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, feature.RiskScore, mfe.Feature)

	var got output
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.False(t, got.OK)
	assert.Nil(t, got.Result)
}
