// Package analysis runs the profiling pipeline for the server: it resolves
// the ruleset, loads and appends player history and records telemetry.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"playprofile/apps/server/internal/history"
	"playprofile/apps/server/internal/telemetry"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/metrics"
	"playprofile/pipeline"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
)

// Outcome is a pipeline result plus any non-fatal problems.
type Outcome struct {
	pipeline.Result
	Warnings []string `json:"warnings,omitempty"`
}

type Service struct {
	catalog  *rules.Catalog
	analyzer *pipeline.Analyzer
	store    history.Store
	vocab    *eventlog.Vocabulary
	metrics  *telemetry.Metrics
	logger   logrus.FieldLogger

	// serializes load-analyze-append per player; entries live only while held
	locksMu sync.Mutex
	locks   map[string]*playerLock
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Service)

func WithVocabulary(v *eventlog.Vocabulary) Option {
	return func(s *Service) { s.vocab = v }
}

func WithTelemetry(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

func New(catalog *rules.Catalog, analyzer *pipeline.Analyzer, store history.Store, opts ...Option) *Service {
	s := &Service{
		catalog:  catalog,
		analyzer: analyzer,
		store:    store,
		vocab:    eventlog.NewVocabulary(),
		logger:   logrus.StandardLogger(),
		locks:    make(map[string]*playerLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.New()
	}
	return s
}

func (s *Service) Store() history.Store { return s.store }

func (s *Service) Vocabulary() *eventlog.Vocabulary { return s.vocab }

// Analyze validates session, runs the pipeline against the player's stored
// history and appends the resulting report.
func (s *Service) Analyze(ctx context.Context, session eventlog.Session) (Outcome, error) {
	start := time.Now()
	defer s.metrics.ObserveSince(start)

	session = session.Canonicalize(s.vocab)
	if err := session.Validate(s.vocab); err != nil {
		s.fail("invalid_session")
		return Outcome{}, err
	}
	rs, err := s.catalog.Get(session.RulesetVersion)
	if err != nil {
		s.fail("unknown_ruleset")
		return Outcome{}, err
	}
	log := s.logger.WithFields(logrus.Fields{
		"player_id":       session.PlayerID,
		"session_id":      session.SessionID,
		"ruleset_version": rs.Version(),
	})

	unlock := s.lock(session.PlayerID)
	defer unlock()

	hist, err := history.Load(ctx, s.store, session.PlayerID)
	if err != nil {
		s.fail("store")
		return Outcome{}, fmt.Errorf("load history: %w", err)
	}
	for _, r := range hist.Snapshot() {
		if r.SessionID == session.SessionID {
			s.fail("duplicate")
			return Outcome{}, history.ErrDuplicateSession
		}
	}

	res, err := s.analyzer.Analyze(ctx, session, rs, hist)
	out := Outcome{Result: res}
	if err != nil {
		// a policy referencing features the engine did not produce is a
		// version mismatch, not a data gap
		if res.Report.SessionID == "" || pipeline.MissingFeature(err) {
			s.fail(ErrorKind(err))
			log.WithError(err).Warn("[Analysis] session rejected")
			return Outcome{}, err
		}
		s.fail("partial")
		out.Warnings = warnings(err)
	}

	wire, err := eventlog.ToWireSession(session)
	if err != nil {
		log.WithError(err).Warn("[Analysis] session not archivable, storing report only")
		wire = nil
	}
	if err := s.store.Append(ctx, res.Report, wire); err != nil {
		s.fail("store")
		return Outcome{}, fmt.Errorf("append report: %w", err)
	}

	s.record(res)
	log.WithFields(logrus.Fields{
		"status":    res.Report.Status,
		"archetype": res.Report.Archetype,
		"warnings":  len(out.Warnings),
	}).Info("[Analysis] report stored")
	return out, nil
}

// Status summarizes a player's stored history.
func (s *Service) Status(ctx context.Context, playerID string) (metrics.Summary, error) {
	reports, err := s.store.Reports(ctx, playerID)
	if err != nil {
		return metrics.Summary{}, err
	}
	return metrics.Summarize(playerID, reports), nil
}

func (s *Service) lock(playerID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[playerID]
	if !ok {
		l = &playerLock{}
		s.locks[playerID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, playerID)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) heldLocks() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func (s *Service) fail(kind string) {
	s.metrics.AnalysisErrors.WithLabelValues(kind).Inc()
}

func (s *Service) record(res pipeline.Result) {
	s.metrics.SessionsAnalyzed.WithLabelValues(string(res.Report.Status)).Inc()
	if res.Archetype != nil {
		s.metrics.Archetypes.WithLabelValues(res.Archetype.Label).Inc()
	}
	for name := range res.Vector.Meta.Failed {
		s.metrics.FeatureFailures.WithLabelValues(name).Inc()
	}
	for _, fl := range res.Vector.Meta.Flags {
		s.metrics.DataQuality.WithLabelValues(string(fl)).Inc()
	}
}

// ErrorKind classifies an analysis error for metrics and HTTP mapping.
func ErrorKind(err error) string {
	var (
		sessionErr *eventlog.SessionError
		unknown    *rules.UnknownRuleError
		input      *feature.InputError
		missing    *feature.MissingFeatureError
		ruleMiss   *metrics.RuleMissingError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &sessionErr), errors.As(err, &input):
		return "invalid_session"
	case errors.As(err, &unknown):
		return "unknown_ruleset"
	case errors.As(err, &missing):
		return "missing_feature"
	case errors.As(err, &ruleMiss):
		return "rule_missing"
	case errors.Is(err, history.ErrDuplicateSession):
		return "duplicate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func warnings(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
