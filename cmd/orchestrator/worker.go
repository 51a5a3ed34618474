package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"instance-orchestrator/api/rest/handlers"
	"instance-orchestrator/api/rest/routes"
	"instance-orchestrator/config"
	"instance-orchestrator/core/executor"
	"instance-orchestrator/core/keygen"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/monitoring"
	"instance-orchestrator/core/notifier"
	"instance-orchestrator/core/orchestrator"
	"instance-orchestrator/core/readiness"
	"instance-orchestrator/core/repository"
	"instance-orchestrator/core/resource_manager"
	"instance-orchestrator/core/scheduler"
	"instance-orchestrator/core/spec"
	"instance-orchestrator/providers/aws"
)

// Worker returns the command that consumes the job queue
func Worker() *cobra.Command {
	var recoverActive bool
	var debug bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume jobs from the queue and serve the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), recoverActive, debug)
		},
	}

	cmd.Flags().BoolVar(&recoverActive, "recover", true, "Re-queue jobs left active by a previous worker")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func runWorker(parent context.Context, recoverActive, debug bool) error {
	logger := newLogger(debug)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Queue
	queue, err := scheduler.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer queue.Close()
	logger.Info("queue connected", "queue", cfg.QueueName)

	if recoverActive {
		n, err := queue.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Warn("re-queued interrupted jobs", "count", n)
		}
	}

	// Run history
	var recorder scheduler.RunRecorder
	var lister handlers.RunLister
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		runs := repository.NewRunRepository(db)
		recorder, lister = runs, runs
		logger.Info("run history enabled")
	}

	// Remote access
	keys, err := keygen.Load(cfg.SSHPrivateKeyPath, cfg.SSHPublicKeyPath)
	if err != nil {
		return err
	}
	sshClient, err := executor.NewSSHClient(keys.PrivateKey, cfg.SSHUser)
	if err != nil {
		return err
	}
	prober := readiness.NewProber(sshClient, cfg.ProbeTimeout, logger)
	playbooks := executor.NewPlaybookRunner(cfg.AnsibleBinary, cfg.SSHUser, cfg.SSHPrivateKeyPath, cfg.PlaybookDir)

	// Provisioning
	catalog, err := spec.LoadCatalog(cfg.TemplateCatalog, cfg.AppRepositoryName)
	if err != nil {
		return err
	}
	engines := func(ctx context.Context, job *models.Job) (resource_manager.StackEngine, error) {
		client, err := aws.NewClientForJob(ctx, job.Region, job.AccessKey, job.SecretKey)
		if err != nil {
			return nil, err
		}
		return client.WithWaitTiming(cfg.PollInterval, cfg.PollTimeout), nil
	}
	provisioner := resource_manager.NewProvisioner(engines, catalog, sshClient, prober, playbooks, resource_manager.Settings{
		StackEnv:             cfg.StackEnv,
		KeyPairName:          cfg.KeyPairName,
		PublicKey:            keys.PublicKey,
		SecurityGroupTagName: cfg.InstanceTagName,
		InstanceTagName:      cfg.InstanceTagName,
		ReadinessAttempts:    cfg.ReadinessAttempts,
		ReadinessInterval:    cfg.ReadinessInterval,
	}, logger)

	// Orchestration
	metrics := monitoring.NewMetrics()
	sink := monitoring.NewLogSink(cfg.LogAPIEndpoint, 10*time.Second)
	opts := orchestrator.Options{
		Remote:  sshClient,
		Metrics: metrics,
		Sink:    sink,
		Logger:  logger,
	}
	if cfg.EstimatePricing {
		opts.Costs = monitoring.NewCostTracker(metrics, 24*time.Hour)
	}
	clouds := func(ctx context.Context, job *models.Job) (orchestrator.Cloud, error) {
		client, err := aws.NewClientForJob(ctx, job.Region, job.AccessKey, job.SecretKey)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	timings := orchestrator.Timings{
		PollInterval:      cfg.PollInterval,
		PollTimeout:       cfg.PollTimeout,
		RestartSettle:     cfg.RestartSettle,
		ReadinessAttempts: cfg.ReadinessAttempts,
		ReadinessInterval: cfg.ReadinessInterval,
		ReadySettle:       cfg.ReadySettle,
	}
	orch := orchestrator.NewOrchestrator(clouds, provisioner, prober, timings, opts)

	callbacks := notifier.New(notifier.Endpoints{
		Completed:     cfg.CompletedEndpoint,
		Failed:        cfg.FailedEndpoint,
		CompletedApp:  cfg.CompletedEndpointApp,
		FailedApp:     cfg.FailedEndpointApp,
		AppRepository: cfg.AppRepositoryName,
	}, cfg.CallbackTimeout, logger)

	jobOpts := scheduler.DefaultJobOptions(cfg.JobAttempts, cfg.JobBackoff)
	sched := scheduler.NewScheduler(queue, orch, callbacks, recorder, metrics, scheduler.Config{
		Concurrency:     cfg.WorkerConcurrency,
		DefaultAttempts: cfg.JobAttempts,
		DefaultBackoff:  cfg.JobBackoff,
	}, logger)

	// Admin API
	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Deps{
		Queue:      queue,
		Runs:       lister,
		JobOptions: jobOpts,
		Metrics:    metrics.Handler(),
		Logger:     logger,
		AdminToken: cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_API_TOKEN is not set, job submission is unauthenticated")
	}
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("admin API listening", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin API failed", "error", err)
			stop()
		}
	}()

	logger.Info("worker started", "timings", timings.String(), "concurrency", cfg.WorkerConcurrency)
	sched.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin API shutdown failed", "error", err)
	}
	if err := sink.Close(shutdownCtx); err != nil {
		logger.Warn("log sink not drained", "error", err)
	}

	logger.Info("worker stopped")
	return nil
}
