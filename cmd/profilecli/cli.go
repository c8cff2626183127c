package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"playprofile/archetype"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/metrics"
	"playprofile/pipeline"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
)

type config struct {
	SessionPath string
	WireInput   bool
	RulesPath   string
	RulesDir    string
	PolicyPath  string
	HistoryPath string
	Window      int
	Epsilon     float64
	Overlap     string
	Verbose     bool
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	def := metrics.DefaultConfig()
	cfg := config{Window: def.Window, Epsilon: def.Epsilon, Overlap: "union"}
	fs.StringVar(&cfg.SessionPath, "session", "", "session JSON file (required)")
	fs.BoolVar(&cfg.WireInput, "wire", false, "session file is in archival wire form")
	fs.StringVar(&cfg.RulesPath, "rules", "", "ruleset JSON file")
	fs.StringVar(&cfg.RulesDir, "rules-dir", "", "directory of ruleset JSON files, selected by the session's ruleset_version")
	fs.StringVar(&cfg.PolicyPath, "policy", "", "classifier policy JSON file (default: built-in rule policy)")
	fs.StringVar(&cfg.HistoryPath, "history", "", "JSON array of prior reports for the player, oldest first")
	fs.IntVar(&cfg.Window, "window", cfg.Window, "trailing history window for the baseline (0 = all)")
	fs.Float64Var(&cfg.Epsilon, "epsilon", cfg.Epsilon, "trend dead band")
	fs.StringVar(&cfg.Overlap, "overlap", cfg.Overlap, "overlapping activity policy: union or sum")
	fs.BoolVar(&cfg.Verbose, "v", false, "log pipeline details to stderr")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.SessionPath == "" {
		return config{}, errors.New("-session is required")
	}
	if cfg.RulesPath == "" && cfg.RulesDir == "" {
		return config{}, errors.New("one of -rules or -rules-dir is required")
	}
	if cfg.Overlap != "union" && cfg.Overlap != "sum" {
		return config{}, fmt.Errorf("unknown -overlap %q", cfg.Overlap)
	}
	return cfg, nil
}

type output struct {
	OK     bool             `json:"ok"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func run(ctx context.Context, cfg config, out, errOut io.Writer) error {
	logger := logrus.New()
	logger.SetOutput(errOut)
	logger.SetLevel(logrus.WarnLevel)
	if cfg.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	session, err := loadSession(cfg)
	if err != nil {
		return err
	}
	vocab := eventlog.NewVocabulary()
	session = session.Canonicalize(vocab)
	if err := session.Validate(vocab); err != nil {
		return err
	}
	rs, err := loadRules(cfg, session.RulesetVersion)
	if err != nil {
		return err
	}

	var classifier archetype.Classifier = archetype.DefaultPolicy()
	if cfg.PolicyPath != "" {
		if classifier, err = archetype.LoadPolicyFile(cfg.PolicyPath); err != nil {
			return err
		}
	}

	history := metrics.NewHistory(session.PlayerID)
	if cfg.HistoryPath != "" {
		prior, err := loadHistory(cfg.HistoryPath)
		if err != nil {
			return err
		}
		history = metrics.NewHistory(session.PlayerID, prior...)
	}

	overlap := feature.OverlapUnion
	if cfg.Overlap == "sum" {
		overlap = feature.OverlapSum
	}
	analyzer := pipeline.NewAnalyzer(
		pipeline.WithLogger(logger),
		pipeline.WithVocabulary(vocab),
		pipeline.WithExtractor(feature.NewEngine(feature.WithOverlapPolicy(overlap), feature.WithLogger(logger))),
		pipeline.WithClassifier(classifier),
		pipeline.WithMetrics(metrics.NewEngine(metrics.Config{Window: cfg.Window, Epsilon: cfg.Epsilon}, metrics.WithLogger(logger))),
	)

	res, err := analyzer.Analyze(ctx, session, rs, history)
	resp := output{OK: err == nil, Result: &res}
	if err != nil {
		resp.Error = err.Error()
		if res.Report.SessionID == "" || pipeline.MissingFeature(err) {
			resp.Result = nil
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(resp); encErr != nil {
		return encErr
	}
	if resp.Result == nil {
		return err
	}
	return nil
}

func loadSession(cfg config) (eventlog.Session, error) {
	if !cfg.WireInput {
		return eventlog.LoadSessionFile(cfg.SessionPath)
	}
	data, err := os.ReadFile(cfg.SessionPath)
	if err != nil {
		return eventlog.Session{}, fmt.Errorf("read wire session: %w", err)
	}
	var w eventlog.WireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return eventlog.Session{}, fmt.Errorf("parse wire session: %w", err)
	}
	return eventlog.FromWireSession(&w)
}

func loadRules(cfg config, version string) (*rules.RuleSet, error) {
	if cfg.RulesPath != "" {
		return rules.LoadFile(cfg.RulesPath)
	}
	catalog := rules.NewCatalog()
	if err := catalog.LoadDir(cfg.RulesDir); err != nil {
		return nil, err
	}
	return catalog.Get(version)
}

func loadHistory(path string) ([]metrics.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var reports []metrics.Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return reports, nil
}
