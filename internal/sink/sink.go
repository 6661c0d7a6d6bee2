// Package sink delivers approved instructions out of the live runner
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"orderflow/internal/config"
	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// streamMaxLen caps the instruction stream via XADD MAXLEN ~
const streamMaxLen int64 = 10000

// Payload is the JSON form of an instruction
type Payload struct {
	SignalID  string          `json:"signal_id"`
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp float64         `json:"timestamp"`
}

// Encode renders an instruction as its JSON payload
func Encode(inst core.Instruction) ([]byte, error) {
	return json.Marshal(Payload{
		SignalID:  inst.SignalID,
		Symbol:    inst.Symbol,
		Direction: string(inst.Direction),
		Size:      inst.Size,
		Price:     inst.Price,
		Timestamp: inst.Timestamp,
	})
}

// New builds the sink selected by cfg.Type
func New(ctx context.Context, cfg config.SinkConfig, logger core.ILogger) (core.IInstructionSink, error) {
	switch cfg.Type {
	case "", config.SinkLog:
		return NewLogSink(logger), nil
	case config.SinkRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
		return NewRedisSink(rdb, cfg.Channel, cfg.Stream, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

// LogSink writes instructions to the log. Used for dry runs.
type LogSink struct {
	logger core.ILogger
	closed atomic.Bool
}

func NewLogSink(logger core.ILogger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "log_sink")}
}

func (s *LogSink) Send(_ context.Context, inst core.Instruction) error {
	if s.closed.Load() {
		return apperrors.ErrSinkClosed
	}
	s.logger.Info("instruction",
		"signal_id", inst.SignalID,
		"symbol", inst.Symbol,
		"direction", inst.Direction,
		"size", inst.Size.String(),
		"price", inst.Price.String(),
		"ts", inst.Timestamp)
	return nil
}

func (s *LogSink) Close() error {
	s.closed.Store(true)
	return nil
}

// RedisClient is the subset of *redis.Client the sink needs
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSink publishes instructions on a Pub/Sub channel and, when a stream is
// configured, also appends them to a capped Redis stream for durable consumers
type RedisSink struct {
	rdb     RedisClient
	channel string
	stream  string
	logger  core.ILogger
	closed  atomic.Bool
}

func NewRedisSink(rdb RedisClient, channel, stream string, logger core.ILogger) *RedisSink {
	return &RedisSink{
		rdb:     rdb,
		channel: channel,
		stream:  stream,
		logger:  logger.WithField("component", "redis_sink").WithField("channel", channel),
	}
}

func (s *RedisSink) Send(ctx context.Context, inst core.Instruction) error {
	if s.closed.Load() {
		return apperrors.ErrSinkClosed
	}
	payload, err := Encode(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instruction: %w", err)
	}

	if s.channel != "" {
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis: publish %s: %w", s.channel, err)
		}
	}
	if s.stream != "" {
		err := s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"payload": payload, "signal_id": inst.SignalID},
		}).Err()
		if err != nil {
			return fmt.Errorf("redis: xadd %s: %w", s.stream, err)
		}
	}
	s.logger.Debug("instruction published", "signal_id", inst.SignalID)
	return nil
}

func (s *RedisSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rdb.Close()
}
