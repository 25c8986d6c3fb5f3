package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	sqlassets "github.com/hostwerk/cloudpod/database"
	capacityrepo "github.com/hostwerk/cloudpod/domains/capacity/be/repo"
	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	eventsrepo "github.com/hostwerk/cloudpod/domains/events/be/repo"
	eventsservice "github.com/hostwerk/cloudpod/domains/events/be/service"
	jobsrepo "github.com/hostwerk/cloudpod/domains/jobs/be/repo"
	jobsservice "github.com/hostwerk/cloudpod/domains/jobs/be/service"
	"github.com/hostwerk/cloudpod/domains/jobs/be/worker"
	"github.com/hostwerk/cloudpod/domains/pods/be/executor"
	podshandler "github.com/hostwerk/cloudpod/domains/pods/be/handler"
	podsrepo "github.com/hostwerk/cloudpod/domains/pods/be/repo"
	podsservice "github.com/hostwerk/cloudpod/domains/pods/be/service"
	taskshandler "github.com/hostwerk/cloudpod/domains/tasks/be/handler"
	tasksrepo "github.com/hostwerk/cloudpod/domains/tasks/be/repo"
	tasksservice "github.com/hostwerk/cloudpod/domains/tasks/be/service"
	platformlogging "github.com/hostwerk/cloudpod/platform/go/logging"
	"github.com/hostwerk/cloudpod/platform/go/metrics"
	platformmiddleware "github.com/hostwerk/cloudpod/platform/go/middleware"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	Workers         int           `env:"WORKERS" envDefault:"4"`
	PollInterval    time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"500ms"`
	JobMaxAttempts  int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	TaskLeaseTTL    time.Duration `env:"TASK_LEASE_TTL" envDefault:"5m"`
	LeaseSweep      time.Duration `env:"TASK_LEASE_SWEEP_INTERVAL" envDefault:"1m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	for _, ddl := range sqlassets.All() {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			logger.Fatal("apply schema", zap.Error(err))
		}
	}

	quotaStore, err := persistence.NewQuotaStore(pool)
	if err != nil {
		logger.Fatal("init quota store", zap.Error(err))
	}
	podStore, err := persistence.NewPodStore(pool)
	if err != nil {
		logger.Fatal("init pod store", zap.Error(err))
	}
	jobStore, err := persistence.NewJobStore(pool)
	if err != nil {
		logger.Fatal("init job store", zap.Error(err))
	}
	taskStore, err := persistence.NewTaskStore(pool)
	if err != nil {
		logger.Fatal("init task store", zap.Error(err))
	}
	eventStore, err := persistence.NewEventStore(pool)
	if err != nil {
		logger.Fatal("init event store", zap.Error(err))
	}
	allocator, err := persistence.NewPodIDAllocator(pool, podStore)
	if err != nil {
		logger.Fatal("init id allocator", zap.Error(err))
	}

	capacitySvc := capacityservice.New(capacityrepo.NewPostgresRepository(quotaStore))
	eventsSvc := eventsservice.New(eventsrepo.NewPostgresRepository(eventStore))
	jobQueue := jobsservice.NewQueue(jobsrepo.NewPostgresRepository(jobStore), cfg.JobMaxAttempts, logger)
	podsSvc := podsservice.New(
		podsrepo.NewPostgresRepository(podStore),
		podsrepo.NewPostgresAllocator(allocator),
		jobQueue,
		capacitySvc,
		logger,
	)
	tasksSvc := tasksservice.New(
		tasksrepo.NewPostgresRepository(taskStore),
		podActivator{pods: podsSvc},
		cfg.TaskLeaseTTL,
		logger,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(registry)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformmiddleware.RequestTrace)
	podshandler.New(podsSvc, capacitySvc, eventsSvc, jobQueue, logger).Mount(apiRouter)
	taskshandler.New(tasksSvc, logger).Mount(apiRouter)
	rootRouter.Mount("/api/v1", apiRouter)

	workerPool := worker.New(jobQueue, podsSvc, executor.NewStub(), worker.Config{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
	}, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		workerPool.Run(ctx)
	}()

	go sweepLeases(ctx, tasksSvc, cfg.LeaseSweep, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker pool did not drain before timeout")
	}
}

// sweepLeases periodically returns abandoned pull-queue claims to pending.
func sweepLeases(ctx context.Context, tasks *tasksservice.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := tasks.ReleaseExpired(ctx); err != nil {
				logger.Error("lease sweep failed", zap.Error(err))
			}
		}
	}
}

// podActivator feeds fleet task completions back into the pod orchestrator.
type podActivator struct {
	pods *podsservice.Service
}

func (a podActivator) Activate(ctx context.Context, podID uuid.UUID, handle string) error {
	_, err := a.pods.ActivateFromFleet(ctx, podID, handle)
	return err
}

func (a podActivator) Deactivate(ctx context.Context, podID uuid.UUID) error {
	_, err := a.pods.DeleteFromFleet(ctx, podID)
	return err
}

func (a podActivator) Fail(ctx context.Context, podID uuid.UUID, reason string) error {
	_, err := a.pods.FailFromFleet(ctx, podID, reason)
	return err
}
