package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/opsgrid/alarmd/internal/channels"
	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/dispatch"
	"github.com/opsgrid/alarmd/internal/engine/correlation"
	"github.com/opsgrid/alarmd/internal/engine/match"
	suppengine "github.com/opsgrid/alarmd/internal/engine/suppression"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/render"
	"github.com/opsgrid/alarmd/internal/repository/postgres"
	"github.com/opsgrid/alarmd/internal/server"
	"github.com/opsgrid/alarmd/internal/services"
	"github.com/opsgrid/alarmd/migrations"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alarm processing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log.With("environment", cfg.Server.Environment).Info("Starting alarmd")

	db, err := postgres.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, migrations.GetFS()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	alarms := postgres.NewAlarmRepository(db)
	rules := postgres.NewRuleRepository(db, log)
	subs := postgres.NewSubscriptionRepository(db, log)
	tasks := postgres.NewNotificationRepository(db)
	suppressions := postgres.NewSuppressionRepository(db)
	windows := postgres.NewWindowRepository(db)

	// One lock set shared by everything that mutates alarms, keyed by
	// fingerprint, so ingest, correlation and dispatch serialize per alarm.
	locks := keymutex.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suppressor := suppengine.NewEngine(suppressions, cfg.Suppression.LogQueueSize, log)
	if err := suppressor.Reload(ctx); err != nil {
		return fmt.Errorf("loading suppression rules: %w", err)
	}
	suppressor.Start(ctx, cfg.Suppression.CacheRefresh)

	topology, err := correlation.LoadTopology(cfg.Correlation.TopologyPath)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}
	analyzer := correlation.NewAnalyzer(alarms, topology, locks, cfg.Correlation, log)
	go analyzer.Run(ctx)

	matcher := match.NewMatcher(rules, subs, tasks, log)
	pipeline := dispatch.NewPipeline(
		&cfg.Pipeline,
		alarms, tasks, subs,
		suppressor, matcher,
		render.NewTemplateRenderer(),
		channels.NewRegistry(),
		locks,
		log,
	)
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pipeline.Run(ctx) }()

	alarmSvc := services.NewAlarmService(alarms, locks, log)
	suppSvc := services.NewSuppressionService(suppressions, suppressor, log)
	maintSvc := services.NewMaintenanceService(windows, suppSvc, log)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Pipeline.RetrySweepSchedule, func() {
		pipeline.RunRetrySweep(ctx)
	}); err != nil {
		return fmt.Errorf("scheduling retry sweep: %w", err)
	}
	if _, err := scheduler.AddFunc("@every 15m", func() {
		maintSvc.AnnounceUpcoming(ctx, time.Hour)
	}); err != nil {
		return fmt.Errorf("scheduling maintenance announcements: %w", err)
	}
	scheduler.Start()

	srv := server.New(cfg.Server, alarmSvc, suppSvc, maintSvc, analyzer, pipeline, log)
	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.With("signal", sig.String()).Info("Shutting down")
	case err := <-serverDone:
		if err != nil {
			log.ErrorWithErr(err, "HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr(err, "HTTP shutdown failed")
	}
	<-scheduler.Stop().Done()

	// Stop intake, then let the workers drain the queue before the
	// engines go away.
	pipeline.Shutdown()
	<-pipelineDone
	cancel()
	suppressor.Stop()

	log.Info("Shutdown complete")
	return nil
}
