package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the stream every lifecycle event is appended to.
const DefaultStream = "mesh:events"

// RedisBus publishes events to a Redis stream.
type RedisBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisBus connects to Redis and pings it.
func NewRedisBus(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected", zap.String("stream", DefaultStream))
	return &RedisBus{rdb: rdb, stream: DefaultStream, maxLen: 10000, logger: logger}, nil
}

// UseStream switches the stream events are written to and read from.
func (b *RedisBus) UseStream(name string) {
	if name != "" {
		b.stream = name
	}
}

// Publish appends the event to the stream, trimming it to an approximate maximum length.
func (b *RedisBus) Publish(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": e.Type,
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}

	b.logger.Debug("published event",
		zap.String("type", e.Type),
		zap.String("subject", e.Subject))
	return nil
}

// Subscribe reads events appended after the call. Cancel ctx to stop.
func (b *RedisBus) Subscribe(ctx context.Context) <-chan *Event {
	return b.subscribe(ctx, "$")
}

// Replay reads the stream from the beginning, then follows new entries.
func (b *RedisBus) Replay(ctx context.Context) <-chan *Event {
	return b.subscribe(ctx, "0")
}

func (b *RedisBus) subscribe(ctx context.Context, lastID string) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read events", zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var e Event
					if json.Unmarshal([]byte(data), &e) != nil {
						continue
					}
					select {
					case ch <- &e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
