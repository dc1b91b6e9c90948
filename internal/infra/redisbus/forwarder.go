// Package redisbus bridges lifecycle events from the in-process bus to Redis
// pub/sub so out-of-process consumers (notifiers, dashboards) can follow them.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/eventbus"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

// Config configures the Redis connection and channel naming.
type Config struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"` // events go to <Channel>:<kind>
}

// DefaultChannel is the channel prefix used when Config.Channel is empty.
const DefaultChannel = "labelmint:events"

// Publisher is the slice of the Redis client the forwarder needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// ─── Forwarder ──────────────────────────────────────────────────────────────

// Forwarder publishes every bus event as JSON on a per-kind Redis channel.
// Delivery is best effort: a failed publish is logged and counted, never
// retried, and never blocks the bus for longer than the publish timeout.
type Forwarder struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewForwarder creates a forwarder. A nil logger discards logs.
func NewForwarder(pub Publisher, channel string, logger *zap.Logger) *Forwarder {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{pub: pub, prefix: channel, timeout: 2 * time.Second, logger: logger}
}

// Attach subscribes the forwarder to bus and returns the unsubscribe func.
func (f *Forwarder) Attach(bus *eventbus.Bus) (cancel func()) {
	return bus.Subscribe(f.Forward)
}

// Channel returns the Redis channel for kind.
func (f *Forwarder) Channel(kind domain.EventKind) string {
	return f.prefix + ":" + string(kind)
}

// Forward publishes one event.
func (f *Forwarder) Forward(ev domain.Event) {
	body, err := Encode(ev)
	if err != nil {
		metrics.EventsForwarded.WithLabelValues("error").Inc()
		f.logger.Error("encode event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.pub.Publish(ctx, f.Channel(ev.Kind), body).Err(); err != nil {
		metrics.EventsForwarded.WithLabelValues("error").Inc()
		f.logger.Warn("forward event to redis",
			zap.String("kind", string(ev.Kind)),
			zap.String("task_id", ev.TaskID),
			zap.Error(err))
		return
	}
	metrics.EventsForwarded.WithLabelValues("ok").Inc()
}

// Encode renders an event as the JSON document published on Redis.
func Encode(ev domain.Event) ([]byte, error) {
	if ev.Payload != nil && ev.Payload.Kind() != ev.Kind {
		return nil, fmt.Errorf("event %s carries %s payload", ev.Kind, ev.Payload.Kind())
	}
	return json.Marshal(ev)
}
