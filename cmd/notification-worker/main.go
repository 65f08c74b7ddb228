package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/db"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/internal/notify"
	redisclient "github.com/hackgods/panchakarma-booking/internal/redis"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "notification-worker")
	logger.Info("notification worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4}, logger)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.OptionsFromConfig(cfg, 4))
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()

	dir := directory.NewService(directory.NewPgStore(pgPool), cfg.DefaultSlotTimes)
	appts := appointment.NewService(appointment.NewPgRepository(pgPool), nil, dir, cfg, logger)

	worker := notify.NewWorker(appts, notify.NewQueue(rdb), notify.DispatcherFromConfig(cfg, logger), cfg.WorkerInterval, logger)
	if err := worker.Run(rootCtx); err != nil {
		logger.Error("notification worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown signal received, notification worker stopped")
}
