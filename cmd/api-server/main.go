package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/apiserver"
	"github.com/auraflow/auraflow/pkg/auth"
	"github.com/auraflow/auraflow/pkg/bridge"
	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/config"
	"github.com/auraflow/auraflow/pkg/engine"
	"github.com/auraflow/auraflow/pkg/realtime"
	"github.com/auraflow/auraflow/pkg/store/postgres"
	redisclient "github.com/auraflow/auraflow/pkg/store/redis"
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
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	bus := realtime.NewBus(redis.Client())

	broadcaster := broadcast.NewBroadcaster(
		postgres.NewEventRepository(db.DB()),
		bus,
		postgres.NewNotificationRepository(db.DB()),
		logger,
	)
	tasks := taskqueue.NewManager(
		postgres.NewTaskRepository(db.DB()),
		postgres.NewStaffRepository(db.DB()),
		broadcaster,
		logger,
	)
	eng := engine.NewEngine(
		postgres.NewWorkflowRepository(db.DB()),
		postgres.NewActionRepository(db.DB()),
		tasks,
		broadcaster,
		logger,
	)

	tokens := auth.NewStaffTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	server := apiserver.NewServer(bridge.New(eng, tasks, broadcaster), tokens, cfg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		logger.Info("Starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
