// Command jobforged runs the job-orchestration daemon: Store, Broker,
// one Worker Pool per registered queue, the Scheduler, the Control
// Plane, and the admin HTTP surface, wired together in dependency
// order with a matching reverse-order shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/jobforge/jobforge/internal/api"
	"github.com/jobforge/jobforge/internal/auth"
	"github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/config"
	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/handler"
	"github.com/jobforge/jobforge/internal/health"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/metrics"
	"github.com/jobforge/jobforge/internal/scheduler"
	"github.com/jobforge/jobforge/internal/store"
	"github.com/jobforge/jobforge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.AppEnv)
	defer log.Sync()

	db, err := store.Connect(cfg)
	if err != nil {
		log.Fatal("connect store", "error", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatal("migrate store", "error", err)
	}
	st := store.New(db, log)

	rdb, err := broker.Connect(cfg)
	if err != nil {
		log.Fatal("connect broker", "error", err)
	}
	brk := broker.NewRedisBroker(rdb, cfg.Broker.KeyPrefix, log)

	types := jobforge.NewTypeRegistry()
	registerJobTypes(types)
	registerMaintenanceJobType(types)

	httpHandler := handler.NewHTTPHandler(types)

	sched := scheduler.New(scheduler.Config{
		Timezone:               cfg.Scheduler.Timezone,
		DelayPromotionInterval: cfg.Scheduler.DelayPromotionInterval,
		StallSweepInterval:     cfg.Scheduler.StallSweepInterval,
		MetricsRefreshInterval: cfg.Scheduler.MetricsRefreshInterval,
		RetentionTrimInterval:  cfg.Scheduler.RetentionTrimInterval,
		RetentionCutoff:        cfg.Scheduler.RetentionCutoff,
		RetryBaseDelay:         cfg.Worker.RetryBaseDelay,
		RetryCeiling:           cfg.Worker.RetryBackoffCeil,
	}, st, brk, nil, log)

	ctrl := control.New(st, brk, sched, types, log)
	sched.SetSubmitter(ctrl)

	eventListener := metrics.NewEventListener()
	metricsMW := worker.NewMetricsMiddleware(eventListener.OnEvent)
	loggingMW := worker.NewLoggingMiddleware(log)

	pools := make([]*worker.Pool, 0, len(jobforge.Registry))
	for _, queue := range jobforge.Registry {
		concurrency := cfg.Worker.DefaultConcurrency
		if n, ok := cfg.Worker.Pools[queue]; ok {
			concurrency = n
		}
		pool := worker.New(worker.Config{
			Queue:          queue,
			Concurrency:    concurrency,
			LeaseDuration:  cfg.Broker.LeaseDuration,
			RetryBaseDelay: cfg.Worker.RetryBaseDelay,
			RetryCeiling:   cfg.Worker.RetryBackoffCeil,
			HandlerTimeout: cfg.Worker.HandlerTimeout,
		}, st, brk, httpHandler, log, loggingMW, metricsMW)
		pools = append(pools, pool)
	}

	authManager := auth.NewManager(cfg.Admin.JWTSecret, cfg.Admin.JWTIssuer, 24*time.Hour)

	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	apiHandler := api.NewHandler(ctrl, log)
	healthHandler := health.NewHandler(db, rdb, ctrl, cfg.AppVersion, log)
	api.SetupRoutes(router, apiHandler, healthHandler, authManager, rdb, cfg)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:         cfg.Admin.Host + ":" + cfg.Admin.Port,
		Handler:      router,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		log.Fatal("start scheduler", "error", err)
	}
	registerDefaultSchedules(ctx, sched, log)
	for _, pool := range pools {
		pool.Start(ctx)
	}

	go func() {
		log.Infow("admin surface listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("admin surface stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")
	shutdown(srv, sched, pools, brk, db, log)
}

// shutdown tears down the service graph in dependency order: HTTP
// surface first so no new work is accepted, then the Scheduler so no
// new jobs are produced, then the Worker Pools so in-flight handlers
// finish, then the Broker, then the Store.
func shutdown(srv *http.Server, sched *scheduler.Scheduler, pools []*worker.Pool, brk broker.Broker, db *gorm.DB, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("admin surface shutdown error", "error", err)
	}
	if err := sched.Stop(ctx); err != nil {
		log.Warnw("scheduler shutdown error", "error", err)
	}
	for _, pool := range pools {
		if err := pool.Stop(ctx); err != nil {
			log.Warnw("pool shutdown error", "error", err)
		}
	}
	if err := brk.Close(); err != nil {
		log.Warnw("broker close error", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warnw("store close error", "error", err)
		}
	}
	log.Infow("shutdown complete")
}

// registerJobTypes declares the (queue, type) pairs this deployment
// accepts and where their outbound handler call goes. A real
// deployment loads this from configuration; the defaults below cover
// one representative type per registered queue.
func registerJobTypes(types *jobforge.TypeRegistry) {
	defaults := map[string]string{
		"business-discovery":  "discover",
		"instagram-detection": "detect",
		"video-scraping":      "scrape",
		"video-analysis":      "analyze",
		"report-generation":   "generate",
		"file-processing":     "process",
		"cleanup":             "purge",
		"notifications":       "notify",
	}
	for queue, jobType := range defaults {
		url := os.Getenv("HANDLER_URL_" + queue)
		if url == "" {
			continue
		}
		types.Register(jobforge.JobTypeDef{
			Queue:   queue,
			Type:    jobType,
			URL:     url,
			Method:  http.MethodPost,
			Timeout: 120000,
		})
	}
}

// registerMaintenanceJobType declares the cleanup queue's own
// housekeeping job type, fired by the bootstrap schedule below.
func registerMaintenanceJobType(types *jobforge.TypeRegistry) {
	url := os.Getenv("HANDLER_URL_cleanup")
	if url == "" {
		return
	}
	types.Register(jobforge.JobTypeDef{
		Queue:   "cleanup",
		Type:    "cleanup-expired-jobs",
		URL:     url,
		Method:  http.MethodPost,
		Timeout: 120000,
	})
}

// registerDefaultSchedules registers the orchestrator's own nightly
// cleanup cron entry if it isn't already persisted from a prior run.
func registerDefaultSchedules(ctx context.Context, sched *scheduler.Scheduler, log *logger.Logger) {
	err := sched.EnsureSchedule(ctx, "default-cleanup-maintenance", "cleanup", "cleanup-expired-jobs",
		json.RawMessage(`{"older_than_days":30}`), "0 2 * * *", "")
	if err != nil {
		log.Warnw("failed to register default cleanup maintenance schedule", "error", err)
	}
}
