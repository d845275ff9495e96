package config

import (
	"time"

	"callsync/pkg/env"
)

// Config holds the runtime configuration for the realtime core
type Config struct {
	Env string

	// Relay / transport
	RelayURL   string // client side: websocket URL of the relay
	ListenAddr string // relay side: HTTP listen address
	RedisAddr  string // relay side: empty disables cross-instance fanout

	// Call lifecycle
	RingTimeout  time.Duration
	TickInterval time.Duration
	STUNServers  []string

	// Event-stream supervision
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int

	// Notification cache
	NotificationRetention time.Duration
	SweepInterval         time.Duration
}

// Load reads configuration from the environment with sensible defaults
func Load() *Config {
	return &Config{
		Env:        env.GetString("ENV", "development"),
		RelayURL:   env.GetString("RELAY_URL", "ws://localhost:8085/ws"),
		ListenAddr: env.GetString("LISTEN_ADDR", ":8085"),
		RedisAddr:  env.GetString("REDIS_ADDR", ""),

		// 45s ring timeout: long enough for a human to reach the phone,
		// short enough that an unanswered call does not ring forever.
		RingTimeout:  env.GetDuration("CALL_RING_TIMEOUT", 45*time.Second),
		TickInterval: env.GetDuration("CALL_TICK_INTERVAL", time.Second),
		STUNServers:  []string{env.GetString("STUN_SERVER", "stun:stun.l.google.com:19302")},

		RetryBaseDelay:   env.GetDuration("STREAM_RETRY_DELAY", 2*time.Second),
		RetryMaxAttempts: env.GetInt("STREAM_RETRY_MAX_ATTEMPTS", 5),

		NotificationRetention: env.GetDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		SweepInterval:         env.GetDuration("NOTIFICATION_SWEEP_INTERVAL", time.Hour),
	}
}
