package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/panchakarma-booking/internal/api"
	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/booking"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/db"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/internal/functions"
	"github.com/hackgods/panchakarma-booking/internal/metrics"
	"github.com/hackgods/panchakarma-booking/internal/notify"
	redisclient "github.com/hackgods/panchakarma-booking/internal/redis"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "api-server")
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

	if cfg.AuthJWTSecret == "" {
		logger.Error("AUTH_JWT_SECRET is required")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn}, logger)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.OptionsFromConfig(cfg, 20))
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewBookingMetrics(reg)

	dir := directory.NewService(directory.NewPgStore(pgPool), cfg.DefaultSlotTimes)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	appts := appointment.NewService(appointment.NewPgRepository(pgPool), locker, dir, cfg, logger)
	appts.SetMetrics(m)

	queue := notify.NewQueue(rdb)
	workflow := booking.NewWorkflow(booking.NewRedisStore(rdb, cfg.BookingSessionTTL), appts, queue, logger)
	workflow.SetMetrics(m)

	dispatcher := notify.DispatcherFromConfig(cfg, logger)
	dispatcher.SetMetrics(m)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appts,
		Directory:    dir,
		Workflow:     workflow,
		Functions:    functions.New(appts, dispatcher, cfg.Location, logger),
		Notifier:     queue,
		Verifier:     auth.NewVerifier(cfg.AuthJWTSecret, auth.NewProfileStore(pgPool)),
		Postgres:     pgPool,
		Redis:        api.RedisPinger(rdb),
		Gatherer:     reg,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.NotifyInProcess {
		worker := notify.NewWorker(appts, queue, dispatcher, cfg.WorkerInterval, logger)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("api-server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("api-server stopped")
}
