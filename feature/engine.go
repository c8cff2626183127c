package feature

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"playprofile/eventlog"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const EngineVersion = "v1"

// Engine extracts a Vector from a session. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	version     string
	features    []Feature
	overlap     OverlapPolicy
	parallelism int
	logger      logrus.FieldLogger
}

type Option func(*Engine)

// WithFeatures replaces the registered feature set.
func WithFeatures(features ...Feature) Option {
	return func(e *Engine) {
		e.features = append([]Feature(nil), features...)
	}
}

// WithVersion tags vectors produced by a customized engine.
func WithVersion(version string) Option {
	return func(e *Engine) { e.version = version }
}

func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(e *Engine) { e.overlap = p }
}

// WithParallelism bounds concurrent feature computations (<=0 means GOMAXPROCS).
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine with the default feature set unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		version:  EngineVersion,
		features: DefaultFeatures(),
		overlap:  OverlapUnion,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism <= 0 {
		e.parallelism = runtime.GOMAXPROCS(0)
	}
	return e
}

func (e *Engine) Version() string { return e.version }

// Names returns the declared feature names in registration order.
func (e *Engine) Names() []string {
	out := make([]string, 0, len(e.features))
	for _, f := range e.features {
		out = append(out, f.Name)
	}
	return out
}

type slot struct {
	result Result
	err    error
}

// Extract computes every registered feature for session under rs.
// Individual feature failures are recorded in Meta.Failed; the returned error
// is reserved for input that cannot be analyzed at all.
func (e *Engine) Extract(session eventlog.Session, rs *rules.RuleSet) (Vector, error) {
	if rs == nil {
		return Vector{}, &InputError{SessionID: session.SessionID, Message: "nil ruleset"}
	}
	if session.EndTime < session.StartTime {
		return Vector{}, &InputError{
			SessionID: session.SessionID,
			Message:   fmt.Sprintf("end_time %.3f is before start_time %.3f", session.EndTime, session.StartTime),
		}
	}

	in := Input{
		Session: session.Sorted(),
		Rules:   rs,
		Overlap: e.overlap,
	}

	slots := make([]slot, len(e.features))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i := range e.features {
		g.Go(func() error {
			slots[i] = runFeature(e.features[i], in)
			return nil
		})
	}
	_ = g.Wait()

	vec := Vector{
		EngineVersion:  e.version,
		RulesetVersion: rs.Version(),
		Values:         make(map[string]float64, len(e.features)),
	}
	flags := make(map[Flag]struct{})
	log := e.logger.WithFields(logrus.Fields{
		"player_id":  session.PlayerID,
		"session_id": session.SessionID,
	})

	for i, f := range e.features {
		s := slots[i]
		if s.err != nil {
			if vec.Meta.Failed == nil {
				vec.Meta.Failed = make(map[string]string)
			}
			vec.Meta.Failed[f.Name] = s.err.Error()
			flags[FlagFeatureFailed] = struct{}{}
			log.WithField("feature", f.Name).WithError(s.err).Warn("[Feature] computation failed")
			continue
		}
		vec.Values[f.Name] = s.result.Value
		if !f.Range.Contains(s.result.Value) {
			vec.Meta.OutOfRange = append(vec.Meta.OutOfRange, f.Name)
			flags[FlagOutOfRange] = struct{}{}
			log.WithFields(logrus.Fields{"feature": f.Name, "value": s.result.Value}).Warn("[Feature] value outside declared range")
		}
		for _, fl := range s.result.Flags {
			flags[fl] = struct{}{}
		}
		for _, note := range s.result.Notes {
			vec.Meta.Notes = append(vec.Meta.Notes, f.Name+": "+note)
			log.WithField("feature", f.Name).Debug("[Feature] " + note)
		}
		vec.Meta.UnresolvedAbilities += s.result.Unresolved
	}

	for fl := range flags {
		vec.Meta.Flags = append(vec.Meta.Flags, fl)
	}
	sort.Slice(vec.Meta.Flags, func(i, j int) bool { return vec.Meta.Flags[i] < vec.Meta.Flags[j] })
	return vec, nil
}

func runFeature(f Feature, in Input) (s slot) {
	defer func() {
		if r := recover(); r != nil {
			s = slot{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if f.Compute == nil {
		return slot{err: fmt.Errorf("feature %s has no compute function", f.Name)}
	}
	res, err := f.Compute(in)
	if err != nil {
		return slot{err: err}
	}
	if math.IsNaN(res.Value) || math.IsInf(res.Value, 0) {
		return slot{err: fmt.Errorf("non-finite value %v", res.Value)}
	}
	return slot{result: res}
}
