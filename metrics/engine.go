package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"playprofile/archetype"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
)

const consumerName = "metrics"

// Config tunes the longitudinal computation.
type Config struct {
	// Window is the number of most recent prior reports the baseline is drawn
	// from. Zero uses the whole history.
	Window int
	// Epsilon is the dead band for trend classification.
	Epsilon float64
}

func DefaultConfig() Config {
	return Config{Window: 0, Epsilon: 0.02}
}

// Engine computes performance reports. It is stateless apart from its
// configuration and safe for concurrent use.
type Engine struct {
	cfg    Config
	now    func() time.Time
	logger logrus.FieldLogger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	if cfg.Epsilon < 0 {
		cfg.Epsilon = -cfg.Epsilon
	}
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Evaluate builds the report for session from its feature vector. history may
// be nil; it is read exactly once. arch, when non-nil, is copied into the
// report label.
//
// A missing rule_mastery_index is fatal. A missing max_score only drops the
// normalized score: the report is returned together with a *RuleMissingError.
func (e *Engine) Evaluate(session eventlog.Session, vec feature.Vector, rs *rules.RuleSet, history HistoryReader, arch *archetype.Archetype) (Report, error) {
	var prior []Report
	if history != nil {
		prior = history.Snapshot()
	}

	rmi, err := vec.Require(feature.RuleMasteryIndex, consumerName)
	if err != nil {
		return Report{}, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"player_id":  session.PlayerID,
		"session_id": session.SessionID,
	})

	report := Report{
		PlayerID:         session.PlayerID,
		SessionID:        session.SessionID,
		RulesetVersion:   session.RulesetVersion,
		FinalScore:       session.FinalScore,
		RuleMasteryIndex: rmi,
		EvaluatedAt:      e.now().UTC(),
	}
	if rs != nil && report.RulesetVersion == "" {
		report.RulesetVersion = rs.Version()
	}
	if arch != nil {
		report.Archetype = arch.Label
	}

	flags := make(map[string]struct{})
	var ruleErr error
	if norm, err := normalizedScore(session.FinalScore, rs); err != nil {
		ruleErr = err
		flags[FlagNormalizedUnavailable] = struct{}{}
		log.WithError(err).Warn("[Metrics] normalized score unavailable")
	} else {
		report.NormalizedScore = &norm
		if norm > 1 {
			flags[FlagNormalizedAboveOne] = struct{}{}
		}
	}

	own := prior[:0:0]
	for _, r := range prior {
		if r.PlayerID != "" && r.PlayerID != session.PlayerID {
			flags[FlagForeignHistory] = struct{}{}
			continue
		}
		own = append(own, r)
	}
	if len(own) < len(prior) {
		log.WithField("skipped", len(prior)-len(own)).Warn("[Metrics] history contains reports for other players")
	}

	if len(own) == 0 {
		report.Status = StatusInsufficient
		report.SessionsConsidered = 1
		flags[FlagInsufficientHistory] = struct{}{}
	} else {
		window := own
		if e.cfg.Window > 0 && len(window) > e.cfg.Window {
			window = window[len(window)-e.cfg.Window:]
		}
		baseline := window[0]
		rate := rmi - baseline.RuleMasteryIndex
		trend := e.classify(rate)
		report.EnhancementRate = &rate
		report.Trend = &trend
		report.BaselineSessionID = baseline.SessionID
		report.SessionsConsidered = len(window) + 1
		report.Status = StatusTracked
	}

	for f := range flags {
		report.Flags = append(report.Flags, f)
	}
	sort.Strings(report.Flags)

	log.WithFields(logrus.Fields{
		"status":      report.Status,
		"rmi":         rmi,
		"prior_count": len(own),
	}).Debug("[Metrics] report evaluated")
	return report, ruleErr
}

func (e *Engine) classify(rate float64) Trend {
	switch {
	case rate > e.cfg.Epsilon:
		return TrendImproving
	case rate < -e.cfg.Epsilon:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func normalizedScore(final float64, rs *rules.RuleSet) (float64, error) {
	if rs == nil {
		return 0, &RuleMissingError{Metric: "normalized_score", Key: rules.KeyMaxScore, Cause: errors.New("no ruleset")}
	}
	maxScore, err := rs.MaxScore()
	if err != nil {
		return 0, &RuleMissingError{Metric: "normalized_score", Key: rules.KeyMaxScore, Cause: err}
	}
	if maxScore <= 0 || math.IsNaN(maxScore) || math.IsInf(maxScore, 0) {
		return 0, &RuleMissingError{Metric: "normalized_score", Key: rules.KeyMaxScore, Cause: fmt.Errorf("invalid value %v", maxScore)}
	}
	return final / maxScore, nil
}
