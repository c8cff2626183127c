// Package pipeline wires extraction, classification and performance
// evaluation into one call per session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"playprofile/archetype"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/metrics"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Result is everything produced for one session. Archetype is nil when the
// classifier could not label the vector.
type Result struct {
	Vector    feature.Vector       `json:"features"`
	Archetype *archetype.Archetype `json:"archetype,omitempty"`
	Report    metrics.Report       `json:"report"`
}

// Analyzer runs the stages in order: extraction, then classification and
// metrics over the joined vector.
type Analyzer struct {
	extractor   *feature.Engine
	classifier  archetype.Classifier
	metrics     *metrics.Engine
	vocab       *eventlog.Vocabulary
	parallelism int
	logger      logrus.FieldLogger
}

type Option func(*Analyzer)

func WithExtractor(e *feature.Engine) Option {
	return func(a *Analyzer) { a.extractor = e }
}

func WithClassifier(c archetype.Classifier) Option {
	return func(a *Analyzer) { a.classifier = c }
}

func WithMetrics(m *metrics.Engine) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithVocabulary sets the event types used to canonicalize incoming
// spellings before extraction.
func WithVocabulary(v *eventlog.Vocabulary) Option {
	return func(a *Analyzer) { a.vocab = v }
}

// WithParallelism bounds how many sessions AnalyzeBatch processes at once.
func WithParallelism(n int) Option {
	return func(a *Analyzer) { a.parallelism = n }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Analyzer) { a.logger = l }
}

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(a)
	}
	if a.extractor == nil {
		a.extractor = feature.NewEngine(feature.WithLogger(a.logger))
	}
	if a.classifier == nil {
		a.classifier = archetype.DefaultPolicy()
	}
	if a.metrics == nil {
		a.metrics = metrics.NewEngine(metrics.DefaultConfig(), metrics.WithLogger(a.logger))
	}
	if a.vocab == nil {
		a.vocab = eventlog.NewVocabulary()
	}
	if a.parallelism <= 0 {
		a.parallelism = runtime.GOMAXPROCS(0)
	}
	return a
}

func (a *Analyzer) Classifier() archetype.Classifier { return a.classifier }

func (a *Analyzer) Vocabulary() *eventlog.Vocabulary { return a.vocab }

// Analyze processes one session against rs. history may be nil. Event type
// spellings are canonicalized against the analyzer's vocabulary first.
//
// Extraction failures and a missing rule_mastery_index are fatal. A
// classification failure or a missing rule constant still yields a Result;
// the returned error then describes what is absent.
func (a *Analyzer) Analyze(ctx context.Context, session eventlog.Session, rs *rules.RuleSet, history metrics.HistoryReader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log := a.logger.WithFields(logrus.Fields{
		"player_id":  session.PlayerID,
		"session_id": session.SessionID,
	})

	session = session.Canonicalize(a.vocab)
	vec, err := a.extractor.Extract(session, rs)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", session.SessionID, err)
	}
	log.WithField("features", vec.Names()).Debug("[Pipeline] features extracted")
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Vector: vec}
	var partial []error

	arch, err := a.classifier.Classify(vec)
	if err != nil {
		log.WithError(err).Warn("[Pipeline] classification skipped")
		partial = append(partial, fmt.Errorf("classify %s: %w", session.SessionID, err))
	} else {
		res.Archetype = &arch
	}

	report, err := a.metrics.Evaluate(session, vec, rs, history, res.Archetype)
	if err != nil {
		var rme *metrics.RuleMissingError
		if !errors.As(err, &rme) {
			return Result{}, fmt.Errorf("evaluate %s: %w", session.SessionID, err)
		}
		partial = append(partial, fmt.Errorf("evaluate %s: %w", session.SessionID, err))
	}
	res.Report = report

	log.WithFields(logrus.Fields{
		"archetype": report.Archetype,
		"status":    report.Status,
	}).Info("[Pipeline] session analyzed")
	return res, errors.Join(partial...)
}

// MissingFeature reports whether err carries a *feature.MissingFeatureError,
// meaning the classifier policy and the extraction engine disagree about
// which features exist. Callers persisting results treat it as fatal even
// though Analyze still returns a Result.
func MissingFeature(err error) bool {
	var mfe *feature.MissingFeatureError
	return errors.As(err, &mfe)
}

// Item is one unit of batch work. Each item carries its own RuleSet.
type Item struct {
	Session eventlog.Session
	Rules   *rules.RuleSet
	History metrics.HistoryReader
}

// BatchResult pairs an item's result with its error. Result is meaningful
// when Err is nil or describes only partial data.
type BatchResult struct {
	Result Result
	Err    error
}

// AnalyzeBatch analyzes independent sessions concurrently. Results keep the
// order of items; one item's failure does not stop the others.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, items []Item) []BatchResult {
	out := make([]BatchResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for i := range items {
		g.Go(func() error {
			res, err := a.Analyze(gctx, items[i].Session, items[i].Rules, items[i].History)
			out[i] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
