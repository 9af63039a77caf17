package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jhgiraldo/packaging-backend/internal/common"
	"github.com/jhgiraldo/packaging-backend/internal/engine"
	"github.com/jhgiraldo/packaging-backend/internal/export"
	"github.com/jhgiraldo/packaging-backend/internal/lang"
	"github.com/jhgiraldo/packaging-backend/internal/pdfdoc"
	"github.com/jhgiraldo/packaging-backend/internal/repository"
	"github.com/jhgiraldo/packaging-backend/internal/server"
	"github.com/jhgiraldo/packaging-backend/internal/store"
	"github.com/jhgiraldo/packaging-backend/internal/vision"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional report archive.
	var archive server.Archiver
	var exporter server.Exporter
	if cfg.Database.DSN != "" {
		pool, err := repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("open database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := repository.HealthCheck(ctx, pool, logger); err != nil {
			logger.Error("database health failed", "error", err)
			os.Exit(1)
		}
		reports := repository.NewReportArchive(pool, logger)
		if err := reports.EnsureSchema(ctx); err != nil {
			logger.Error("ensure archive schema", "error", err)
			os.Exit(1)
		}
		archive = reports
		exporter = export.NewService(reports, logger)
	} else {
		logger.Warn("DB_URL not set; report archive disabled")
	}

	// Optional filesystem artifact store.
	var artifacts store.ArtifactStore
	if cfg.Artifact.Root != "" {
		artifacts = store.NewFSStore(cfg.Artifact.Root, logger)
	}

	spans := pdfdoc.NewSpanExtractor(cfg.Engine.BoldKeywords, logger)
	renderer := pdfdoc.NewRenderer(pdfdoc.RenderConfig{
		Pdftoppm:    cfg.Engine.Pdftoppm,
		DPI:         cfg.Engine.DPI,
		Concurrency: cfg.Engine.RenderConc,
	}, logger)
	scorer := vision.NewScorer(cfg.Engine.AssetsRoot, logger)
	recognizer := vision.NewReadClient(vision.ReadClientConfig{
		Endpoint:     cfg.Vision.Endpoint,
		Key:          cfg.Vision.Key,
		PollInterval: cfg.Vision.PollInterval,
		ReadTimeout:  cfg.Vision.ReadTimeout,
	}, nil, logger)
	detector := lang.NewIdentifier(logger)

	eng := engine.New(spans, renderer, scorer, recognizer, detector,
		engine.Config{VisualConcurrency: cfg.Engine.VisualConc}, logger)

	svc := server.NewService(eng, cfg.Engine.RulesPath, archive, artifacts, exporter, cfg.Server, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: svc.Routes(),
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("stopped")
}
