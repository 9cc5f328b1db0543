package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultChannel is the pub/sub channel used when none is configured.
	DefaultChannel = "proofmind.certificates"
	dialTimeout    = 5 * time.Second
)

var (
	errMissingClient  = errors.New("redis client is required")
	errMissingSink    = errors.New("event sink is required")
	errMissingAddress = errors.New("redis address is required")
)

type publisherClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisBus publishes committed certificate events on a Redis channel and can
// forward events published by other registry instances into a local sink.
type RedisBus struct {
	client    *goredis.Client
	publisher publisherClient
	channel   string
	logger    *zap.Logger
}

// RedisConfig describes the Redis connection used for event fan-out.
type RedisConfig struct {
	Address string
	Channel string
	Logger  *zap.Logger
}

// NewRedisBus connects to Redis and verifies the connection with a ping.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errMissingAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        address,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	bus := newRedisBus(client, cfg.Channel, cfg.Logger)
	bus.client = client
	return bus, nil
}

func newRedisBus(publisher publisherClient, channel string, logger *zap.Logger) *RedisBus {
	trimmed := strings.TrimSpace(channel)
	if trimmed == "" {
		trimmed = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		publisher: publisher,
		channel:   trimmed,
		logger:    logger,
	}
}

// Channel returns the pub/sub channel the bus publishes on.
func (b *RedisBus) Channel() string {
	return b.channel
}

// Publish implements certificates.EventSink.
func (b *RedisBus) Publish(ctx context.Context, event certificates.Event) error {
	if b == nil || b.publisher == nil {
		return errMissingClient
	}
	payload, err := certificates.EncodeEvent(event)
	if err != nil {
		return err
	}
	return b.publisher.Publish(ctx, b.channel, payload).Err()
}

// StartForwarder subscribes to the channel and delivers every decoded event to
// sink until ctx ends.
func (b *RedisBus) StartForwarder(ctx context.Context, sink certificates.EventSink) error {
	if b == nil || b.client == nil {
		return errMissingClient
	}
	if sink == nil {
		return errMissingSink
	}

	subscription := b.client.Subscribe(ctx, b.channel)
	if _, err := subscription.Receive(ctx); err != nil {
		_ = subscription.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer subscription.Close() //nolint:errcheck
		messages := subscription.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-messages:
				if !ok || message == nil {
					return
				}
				b.forward(ctx, message.Payload, sink)
			}
		}
	}()
	return nil
}

func (b *RedisBus) forward(ctx context.Context, payload string, sink certificates.EventSink) {
	event, err := certificates.DecodeEvent(payload)
	if err != nil {
		b.logger.Warn("bad redis event payload", zap.String("channel", b.channel), zap.Error(err))
		return
	}
	if err := sink.Publish(ctx, event); err != nil {
		b.logger.Warn("redis event forwarding failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
