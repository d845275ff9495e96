package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsync/internal/call"
	"callsync/internal/config"
	"callsync/internal/domain"
	"callsync/internal/media"
	"callsync/internal/notify"
	"callsync/internal/presence"
	"callsync/internal/stream"
	"callsync/pkg/env"
	"callsync/pkg/logger"
)

// apiBaseURL derives the relay's HTTP base from its websocket URL
func apiBaseURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://localhost:8085"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func main() {
	cfg := config.Load()

	if err := logger.Init(&logger.Config{
		Level:  env.GetString("LOG_LEVEL", "info"),
		Format: "text",
		Output: "stdout",
	}); err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	selfID := uuid.New()
	if raw := env.GetString("CLIENT_USER_ID", ""); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			logger.Fatal("CLIENT_USER_ID is not a uuid", zap.String("value", raw))
		}
		selfID = parsed
	}
	self := domain.Participant{
		UserID:      selfID,
		DisplayName: env.GetString("CLIENT_DISPLAY_NAME", "anonymous"),
	}
	logger.Info("starting client", zap.String("user_id", selfID.String()))

	transport := stream.NewWSTransport(cfg.RelayURL, selfID)
	defer transport.Close()

	machine := call.New(call.Config{
		RingTimeout:  cfg.RingTimeout,
		TickInterval: cfg.TickInterval,
	}, self, transport, media.NewFactory(cfg.STUNServers))
	defer machine.Close()

	dispatcher := call.NewDispatcher(machine)

	supervisor := stream.NewSupervisor(transport, stream.Config{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxAttempts: cfg.RetryMaxAttempts,
		OnLost: func(topic string) {
			logger.Error("subscription lost for good", zap.String("topic", topic))
			if topic == stream.TopicCalls {
				machine.HandleTransportLost()
			}
		},
	})

	callsHandle := supervisor.Supervise(stream.TopicCalls, dispatcher.Dispatch)
	defer callsHandle.Cancel()

	tracker := presence.NewTracker()
	presenceHandle := supervisor.Supervise(stream.TopicPresence, tracker.HandleEvent)
	defer presenceHandle.Cancel()

	cache := notify.NewCache(cfg.NotificationRetention)
	stopSweep := cache.StartSweep(cfg.SweepInterval)
	defer stopSweep()

	api := notify.NewHTTPAPI(apiBaseURL(cfg.RelayURL), selfID)
	syncer := notify.NewSyncer(cache, api, supervisor)
	syncer.Start()
	defer syncer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := syncer.Backfill(ctx, time.Now().Add(-cfg.NotificationRetention)); err != nil {
		logger.Warn("notification backfill failed", zap.Error(err))
	}
	cancel()

	go watchCalls(machine, env.GetBool("CLIENT_AUTO_ACCEPT", false))
	go watchUnread(cache)

	// Optionally ring a peer straight away.
	if raw := env.GetString("CALL_PEER", ""); raw != "" {
		peerID, err := uuid.Parse(raw)
		if err != nil {
			logger.Fatal("CALL_PEER is not a uuid", zap.String("value", raw))
		}
		kind := domain.CallKind(strings.ToLower(env.GetString("CALL_KIND", string(domain.CallKindAudio))))
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			callID, err := machine.Initiate(ctx, domain.Participant{UserID: peerID}, kind, nil)
			if err != nil {
				logger.Error("call failed to start", zap.Error(err))
				return
			}
			logger.Info("calling", zap.String("call_id", callID.String()))
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("client stopping")
}

func watchCalls(machine *call.Machine, autoAccept bool) {
	for snap := range machine.Updates() {
		logger.Info("call state",
			zap.String("call_id", snap.CallID.String()),
			zap.String("status", string(snap.Status)),
			zap.String("elapsed", snap.Elapsed))

		if autoAccept && snap.Status == domain.CallStatusRinging && !snap.Outgoing {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := machine.Accept(ctx); err != nil {
					logger.Warn("auto accept failed", zap.Error(err))
				}
			}()
		}
	}
}

func watchUnread(cache *notify.Cache) {
	for unread := range cache.Updates() {
		logger.Info("unread notifications", zap.Int("count", unread))
	}
}
