package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callsync/internal/config"
	"callsync/internal/relay"
	"callsync/pkg/logger"
)

func main() {
	cfg := config.Load()

	logFormat := "text"
	if cfg.Env == "production" {
		logFormat = "json"
		gin.SetMode(gin.ReleaseMode)
	}
	if err := logger.Init(&logger.Config{
		Level:  "info",
		Format: logFormat,
		Output: "stdout",
	}); err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	var rdb *redis.Client
	var presence relay.PresenceStore = relay.NewMemoryPresence()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		presence = relay.NewRedisPresence(rdb)
		logger.Info("cross-instance fanout enabled", zap.String("redis", cfg.RedisAddr))
	} else {
		logger.Info("running single-instance, no redis configured")
	}

	store := relay.NewNotificationStore()
	hub := relay.NewHub(presence, store, rdb)
	go hub.Run()

	server := relay.NewServer(hub, store)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("relay listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("relay server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	hub.Stop()
	if rdb != nil {
		rdb.Close()
	}
}
