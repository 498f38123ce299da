package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/config"
	"github.com/auraflow/auraflow/pkg/engine"
	"github.com/auraflow/auraflow/pkg/realtime"
	"github.com/auraflow/auraflow/pkg/store/postgres"
	redisclient "github.com/auraflow/auraflow/pkg/store/redis"
	"github.com/auraflow/auraflow/pkg/sweeper"
	"github.com/auraflow/auraflow/pkg/taskqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	workflows := postgres.NewWorkflowRepository(db.DB())

	// The sweeper drives real transitions, so it carries the same engine
	// wiring as the API server.
	broadcaster := broadcast.NewBroadcaster(
		postgres.NewEventRepository(db.DB()),
		realtime.NewBus(redis.Client()),
		postgres.NewNotificationRepository(db.DB()),
		logger,
	)
	tasks := taskqueue.NewManager(
		postgres.NewTaskRepository(db.DB()),
		postgres.NewStaffRepository(db.DB()),
		broadcaster,
		logger,
	)
	eng := engine.NewEngine(workflows, postgres.NewActionRepository(db.DB()), tasks, broadcaster, logger)

	s := sweeper.NewSweeper(workflows, eng, tasks, logger, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := s.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("sweeper stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("sweeper shutting down")
}
