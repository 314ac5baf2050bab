// Package redis wraps go-redis with the publish/health-check surface the
// candle engine's notifier needs, trimmed from the original client wrapper
// down to what a pub/sub-only publisher actually exercises.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps a Redis client with candlecore-specific publish semantics.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	config ClientConfig
}

// ClientConfig holds Redis connection settings.
type ClientConfig struct {
	Addr     string
	DB       int
	Password string
	PoolSize int
}

// Event is anything publishable with enough self-description to log about.
type Event interface {
	GetSymbol() string
	GetEventType() string
}

// NewClient creates a Client and pings it once to fail fast on a bad address.
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		DB:         config.DB,
		Password:   config.Password,
		PoolSize:   config.PoolSize,
		MaxRetries: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect %s: %w", config.Addr, err)
	}

	logger.Info("redis client connected", zap.String("addr", config.Addr), zap.Int("db", config.DB))
	return &Client{rdb: rdb, logger: logger, config: config}, nil
}

// Publish marshals event as JSON and publishes it to channel.
func (c *Client) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", event.GetEventType(), err)
	}
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		c.logger.Warn("redis: publish failed",
			zap.String("channel", channel),
			zap.String("symbol", event.GetSymbol()),
			zap.String("event_type", event.GetEventType()),
			zap.Error(err))
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

// PublishBatch pipelines multiple events per channel in one round trip — used
// by the notifier to drain its backlog on shutdown without one round trip per
// pending candle.
func (c *Client) PublishBatch(ctx context.Context, byChannel map[string][]Event) error {
	if len(byChannel) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	total := 0
	for channel, evs := range byChannel {
		for _, ev := range evs {
			data, err := json.Marshal(ev)
			if err != nil {
				c.logger.Warn("redis: marshal failed in batch", zap.String("channel", channel), zap.Error(err))
				continue
			}
			pipe.Publish(ctx, channel, data)
			total++
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: batch publish: %w", err)
	}
	c.logger.Debug("redis: batch publish completed", zap.Int("channels", len(byChannel)), zap.Int("events", total))
	return nil
}

// HealthCheck reports whether the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: health check: %w", err)
	}
	return nil
}

// NewClientFromRedis wraps an already-constructed go-redis client without
// pinging again — for callers that manage the underlying connection
// themselves, including tests exercising failure paths against an address
// nothing listens on.
func NewClientFromRedis(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// BuildChannelName builds a standardized "<prefix>:<symbol>:<interval>" name.
func BuildChannelName(prefix, symbol, interval string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, symbol, interval)
}
