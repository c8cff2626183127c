package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playprofile/apps/server/internal/analysis"
	"playprofile/apps/server/internal/api"
	"playprofile/apps/server/internal/auth"
	"playprofile/apps/server/internal/collector"
	"playprofile/apps/server/internal/config"
	"playprofile/apps/server/internal/database"
	"playprofile/apps/server/internal/gateway"
	"playprofile/apps/server/internal/history"
	"playprofile/apps/server/internal/telemetry"
	"playprofile/archetype"
	"playprofile/eventlog"
	"playprofile/feature"
	"playprofile/metrics"
	"playprofile/pipeline"
	"playprofile/rules"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("[Server] invalid configuration")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("[Server] invalid logging configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("[Server] stopped")
	}
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	db, err := database.Open(ctx, cfg.StoreMode, cfg.SQLitePath, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	authService, err := auth.NewService(ctx, db, cfg.SessionTTL)
	if err != nil {
		return err
	}
	defer authService.Close()
	store, err := history.NewStore(ctx, db)
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	vocab := eventlog.NewVocabulary()
	analyzer, err := newAnalyzer(cfg, vocab, logger)
	if err != nil {
		return err
	}

	m := telemetry.New()
	svc := analysis.New(catalog, analyzer, store,
		analysis.WithVocabulary(vocab),
		analysis.WithTelemetry(m),
		analysis.WithLogger(logger),
	)
	streams := collector.New(cfg.StreamIdleTTL,
		collector.WithLogger(logger),
		collector.WithGauge(func(open int) { m.OpenStreams.Set(float64(open)) }),
	)
	gw := gateway.New(streams, svc,
		gateway.WithAuth(authService),
		gateway.WithAllowedOrigins(cfg.AllowedOrigins),
		gateway.WithTelemetry(m),
		gateway.WithLogger(logger),
	)
	authHTTP := auth.NewHTTPHandler(authService, logger)
	apiHTTP := api.NewHTTPHandler(svc, catalog, authHTTP.Require, logger).WithRecentLimit(cfg.RecentLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", m.Handler())
	authHTTP.RegisterRoutes(mux)
	apiHTTP.RegisterRoutes(mux)

	go sweep(ctx, streams, cfg.StreamIdleTTL)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.Addr,
			"store":    cfg.StoreMode,
			"rulesets": catalog.Versions(),
		}).Info("[Server] listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadCatalog(cfg config.Config) (*rules.Catalog, error) {
	catalog := rules.NewCatalog()
	if cfg.RulesDir != "" {
		if err := catalog.LoadDir(cfg.RulesDir); err != nil {
			return nil, err
		}
	}
	if cfg.RulesFile != "" {
		rs, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		if err := catalog.Add(rs); err != nil {
			return nil, err
		}
		if cfg.FallbackRuleset == "" {
			cfg.FallbackRuleset = rs.Version()
		}
	}
	if cfg.FallbackRuleset != "" {
		if err := catalog.SetFallback(cfg.FallbackRuleset); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func newAnalyzer(cfg config.Config, vocab *eventlog.Vocabulary, logger logrus.FieldLogger) (*pipeline.Analyzer, error) {
	var classifier archetype.Classifier = archetype.DefaultPolicy()
	if cfg.PolicyFile != "" {
		c, err := archetype.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		classifier = c
	}
	overlap := feature.OverlapUnion
	if cfg.Overlap == "sum" {
		overlap = feature.OverlapSum
	}
	extractor := feature.NewEngine(
		feature.WithOverlapPolicy(overlap),
		feature.WithParallelism(cfg.Parallelism),
		feature.WithLogger(logger),
	)
	return pipeline.NewAnalyzer(
		pipeline.WithExtractor(extractor),
		pipeline.WithClassifier(classifier),
		pipeline.WithMetrics(metrics.NewEngine(
			metrics.Config{Window: cfg.HistoryWindow, Epsilon: cfg.TrendEpsilon},
			metrics.WithLogger(logger),
		)),
		pipeline.WithVocabulary(vocab),
		pipeline.WithParallelism(cfg.Parallelism),
		pipeline.WithLogger(logger),
	), nil
}

func sweep(ctx context.Context, streams *collector.Collector, idleTTL time.Duration) {
	if idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			streams.Sweep()
		}
	}
}
