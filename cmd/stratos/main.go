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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/stratos/internal/adapter/ffprobe"
	"github.com/Strob0t/stratos/internal/adapter/filestore"
	cfhttp "github.com/Strob0t/stratos/internal/adapter/http"
	cfnats "github.com/Strob0t/stratos/internal/adapter/nats"
	cfotel "github.com/Strob0t/stratos/internal/adapter/otel"
	"github.com/Strob0t/stratos/internal/adapter/ws"
	"github.com/Strob0t/stratos/internal/config"
	"github.com/Strob0t/stratos/internal/domain/command"
	"github.com/Strob0t/stratos/internal/logger"
	"github.com/Strob0t/stratos/internal/middleware"
	"github.com/Strob0t/stratos/internal/procpool"
	"github.com/Strob0t/stratos/internal/resilience"
	"github.com/Strob0t/stratos/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"storage", cfg.Storage.Driver,
		"max_concurrent", cfg.Queue.MaxConcurrent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTel, err := cfotel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	go func() {
		err := config.Watch(ctx, config.Path(), time.Second, func(next *config.Config) {
			logger.SetLevel(next.Logging.Level)
			slog.Info("config reloaded", "log_level", next.Logging.Level)
		})
		if err != nil {
			slog.Warn("config watch disabled", "error", err)
		}
	}()

	// --- Infrastructure ---

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := filestore.New(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("uploads: %w", err)
	}

	var (
		bus     *cfnats.Queue
		breaker *resilience.Breaker
	)
	if cfg.NATS.URL != "" {
		bus, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bus.Drain() }()
		breaker = resilience.NewBreaker("nats", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	} else {
		slog.Info("nats disabled, lifecycle mirror and intake off")
	}

	taskCache, closeCache, err := buildCache(ctx, cfg, bus)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Services ---

	hub := service.NewHub()
	wsHub := ws.NewHub(middleware.OwnerFromRequest)
	prober := ffprobe.New(cfg.Runner.FFprobeBin, cfg.Runner.ProbeTimeout, procpool.New(cfg.Runner.MaxProbeParallel))

	runner, err := service.NewRunner(service.RunnerConfig{
		OutputDir:    cfg.Runner.OutputDir,
		Shell:        cfg.Runner.Shell,
		Timeout:      cfg.Runner.TaskTimeout,
		ProbeTimeout: cfg.Runner.ProbeTimeout,
	}, store, blobs, prober, hub)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	runner.SetBroadcaster(wsHub)
	runner.SetMetrics(metrics)

	// Tasks run under their own context, cancelled once HTTP has drained.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()
	queue := service.NewQueue(execCtx, runner, cfg.Queue.MaxConcurrent)
	queue.SetMetrics(metrics)

	resolver := command.NewResolver(
		command.Builtins(),
		command.AICommands(command.AITools{WhisperBin: cfg.AI.WhisperBin, WhisperModel: cfg.AI.WhisperModel}),
		store,
	)
	taskSvc := service.NewTaskService(service.TaskServiceConfig{
		Retention:   cfg.Runner.TaskRetention,
		CacheTTL:    cfg.Cache.TTL,
		MaxPageSize: cfg.Server.MaxPageSize,
	}, store, resolver, queue, runner)
	taskSvc.SetCache(taskCache)
	taskSvc.SetMetrics(metrics)
	if bus != nil {
		taskSvc.SetMessageQueue(bus, breaker)
		runner.SetMessageQueue(bus, breaker)
	}

	previewSvc := service.NewPreviewService(service.PreviewConfig{
		FFmpegBin:    cfg.Preview.FFmpegBin,
		MinSizeBytes: cfg.Preview.MinSizeBytes,
		SizeLimit:    cfg.Preview.SizeLimitBytes,
		Timeout:      cfg.Preview.Timeout,
	}, store, prober, procpool.New(cfg.Preview.MaxConcurrent))
	previewSvc.SetOnUpdate(taskSvc.Invalidate)
	if cfg.Preview.Enabled {
		runner.SetPreview(previewSvc)
	}

	fileSvc := service.NewFileService(service.FileServiceConfig{
		Retention:   cfg.Uploads.Retention,
		MaxBytes:    cfg.Uploads.MaxBytes,
		MaxPageSize: cfg.Server.MaxPageSize,
	}, store, blobs)
	streamSvc := service.NewStreamService(store, hub, cfg.Stream.HeartbeatInterval)

	if err := taskSvc.Recover(ctx, cfg.Runner.RequeueOnStart, cfg.Runner.FailStaleOnStart); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	sweeper := service.NewSweeper(service.SweeperConfig{
		Interval:   cfg.Cleanup.Interval,
		BatchSize:  cfg.Cleanup.BatchSize,
		Workers:    cfg.Cleanup.Workers,
		OutputRoot: runner.OutputRoot(),
	}, store, blobs)
	sweeper.SetMetrics(metrics)
	sweeper.Start(ctx)

	cancelIntake, err := taskSvc.StartIntake(ctx)
	if err != nil {
		return fmt.Errorf("submit intake: %w", err)
	}
	defer cancelIntake()

	// --- HTTP ---

	var limiter *middleware.RateLimiter
	if cfg.Server.SubmitRate > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)
		limiter.StartCleanup(ctx, 10*time.Minute, time.Hour)
	}

	handlers := &cfhttp.Handlers{
		Tasks:    taskSvc,
		Files:    fileSvc,
		Streams:  streamSvc,
		Previews: previewSvc,
		Health:   healthChecks(store, bus),
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)

	// WebSocket endpoint
	r.Get("/ws", wsHub.HandleWS)

	// API routes
	cfhttp.MountRoutes(r, handlers, limiter)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	cancelExec()
	drained := make(chan struct{})
	go func() {
		queue.Wait()
		previewSvc.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Warn("tasks still running at shutdown")
	}
	return nil
}
