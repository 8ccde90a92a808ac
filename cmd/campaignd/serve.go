package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/salonkit/campaignd/internal/analytics"
	"github.com/salonkit/campaignd/internal/api"
	"github.com/salonkit/campaignd/internal/audience"
	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/config"
	"github.com/salonkit/campaignd/internal/db"
	"github.com/salonkit/campaignd/internal/dispatch"
	"github.com/salonkit/campaignd/internal/metrics"
	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/orchestrator"
	"github.com/salonkit/campaignd/internal/queue"
	"github.com/salonkit/campaignd/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign server",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/campaignd/config.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Setup logger
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	m := metrics.New()
	metrics.SetGlobal(m)

	// Storage
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}

	tasks, err := queue.NewStore(cfg.Queue.Path)
	if err != nil {
		return err
	}
	defer tasks.Close()

	// Repositories
	campaigns := repository.NewCampaignRepository(database.DB)
	templates := repository.NewTemplateRepository(database.DB)
	customers := repository.NewCustomerRepository(database.DB)
	events := repository.NewEventRepository(database.DB)
	dispatches := repository.NewDispatchRepository(database.DB)

	// Core
	service := campaign.NewService(campaigns, templates, logger, campaign.Defaults{
		Page:     cfg.Defaults.Page,
		PageSize: cfg.Defaults.PageSize,
	})
	resolver := audience.NewResolver(customers, logger)
	aggregator := analytics.NewAggregator(events, dispatches, logger)

	dispatchers := dispatch.ByChannel{
		models.TypeEmail: dispatch.NewEmailDispatcher(
			cfg.Dispatch.Email.Addr,
			cfg.Dispatch.Email.Username,
			cfg.Dispatch.Email.Password,
			cfg.Dispatch.Email.Timeout,
			logger,
		),
		models.TypeSMS: dispatch.NewSMSDispatcher(
			cfg.Dispatch.SMS.BaseURL,
			cfg.Dispatch.SMS.APIKey,
			cfg.Dispatch.SMS.Timeout,
			logger,
		),
	}

	orch := orchestrator.New(service, campaigns, resolver, dispatchers,
		dispatches, aggregator, events, tasks,
		orchestrator.Config{
			MinContentLength:  cfg.Defaults.MinContentLength,
			DefaultTimezone:   cfg.Defaults.Timezone,
			RecurrenceHorizon: cfg.Defaults.RecurrenceHorizon,
			Concurrency:       cfg.Worker.Concurrency,
			BatchSize:         cfg.Defaults.BatchSize,
			BatchDelayMinutes: cfg.Defaults.BatchDelayMinutes,
		}, logger)

	runner := orchestrator.NewRunner(tasks, orch, orchestrator.RunnerConfig{
		PollInterval: cfg.Worker.PollInterval,
		Concurrency:  cfg.Worker.Concurrency,
	}, logger)

	api.Version = version
	server := api.NewServer(service, orch, resolver, aggregator, tasks, m,
		&cfg.Server, logger)

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()
	}()

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Start(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		cancel()
		<-runnerDone
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-runnerDone
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
