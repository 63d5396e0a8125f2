package pulsebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// RedisClientOptions configures NewRedisClient.
type RedisClientOptions struct {
	// Redis is the Redis connection backing every Pulse stream opened through
	// this client. Required.
	Redis *redis.Client
	// StreamMaxLen bounds the number of entries kept per stream. Zero uses
	// Pulse's defaults.
	StreamMaxLen int
}

type redisClient struct {
	redis  *redis.Client
	maxLen int
}

// NewRedisClient constructs a Client backed by a Redis connection, the
// concrete adapter callers pass to NewBus in production.
func NewRedisClient(opts RedisClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsebus: redis client is required")
	}
	return &redisClient{redis: opts.Redis, maxLen: opts.StreamMaxLen}, nil
}

func (c *redisClient) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulsebus: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("pulsebus: create stream: %w", err)
	}
	return &redisStream{stream: str}, nil
}

func (c *redisClient) Close(ctx context.Context) error { return nil }

type redisStream struct {
	stream *streaming.Stream
}

func (s *redisStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	id, err := s.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulsebus: add: %w", err)
	}
	return id, nil
}

func (s *redisStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := s.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, err
	}
	return sinkAdapter{sink}, nil
}

func (s *redisStream) Destroy(ctx context.Context) error { return s.stream.Destroy(ctx) }

// sinkAdapter adapts *streaming.Sink to the Sink interface, making Close
// match the signature expected here (return void, not error).
type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
