// Package websocket provides a WebSocket client that redials with backoff and
// keeps the connection alive with pings
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/core"
	"orderflow/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotConnected is returned by Send while no connection is up
var ErrNotConnected = errors.New("websocket not connected")

// MessageHandler handles one incoming message. It runs on the read goroutine,
// so a slow handler applies backpressure to the connection.
type MessageHandler func(message []byte)

// Config tunes reconnection and keepalive
type Config struct {
	// MaxReconnects bounds consecutive failed dials; negative means unlimited
	MaxReconnects    int
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
	PingInterval     time.Duration
	PingWait         time.Duration
	PongWait         time.Duration
}

// DefaultConfig returns conservative keepalive settings
func DefaultConfig() Config {
	return Config{
		MaxReconnects:    5,
		ReconnectWait:    time.Second,
		MaxReconnectWait: 30 * time.Second,
		PingInterval:     30 * time.Second,
		PingWait:         10 * time.Second,
		PongWait:         60 * time.Second,
	}
}

// Client is a resilient WebSocket client
type Client struct {
	url     string
	handler MessageHandler
	cfg     Config
	dialer  *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	onConnected func(c *Client) error

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client; call Run to connect
func NewClient(url string, handler MessageHandler, cfg Config, logger core.ILogger) *Client {
	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("orderflow_ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("orderflow_ws_connections_total",
		metric.WithDescription("Total number of WebSocket dial attempts"))
	latencyHist, _ := meter.Float64Histogram("orderflow_ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.MaxReconnectWait < cfg.ReconnectWait {
		cfg.MaxReconnectWait = cfg.ReconnectWait
	}
	if cfg.PingWait <= 0 {
		cfg.PingWait = 10 * time.Second
	}

	return &Client{
		url:         url,
		handler:     handler,
		cfg:         cfg,
		dialer:      websocket.DefaultDialer,
		logger:      logger.WithField("component", "ws_client").WithField("url", url),
		tracer:      telemetry.GetTracer("ws-client"),
		msgCounter:  msgCounter,
		connCounter: connCounter,
		latencyHist: latencyHist,
	}
}

// SetOnConnected registers a callback run after every successful dial, typically
// to send subscriptions. An error drops the connection and triggers a redial.
func (c *Client) SetOnConnected(cb func(c *Client) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes a JSON message
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(message)
}

// Run connects and reads until ctx is cancelled, redialing after every
// disconnect. It returns nil on cancellation and an error once a redial
// exhausts MaxReconnects attempts.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket %s: giving up: %w", c.url, err)
		}

		c.mu.Lock()
		c.conn = conn
		onConnected := c.onConnected
		c.mu.Unlock()

		c.logger.Info("websocket connected")
		if onConnected != nil {
			if err := onConnected(c); err != nil {
				c.logger.Error("on-connect callback failed", "error", err)
				c.closeConn()
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.cfg.ReconnectWait):
				}
				continue
			}
		}

		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("websocket disconnected, redialing")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := retrypolicy.NewBuilder[*websocket.Conn]().
		WithBackoff(c.cfg.ReconnectWait, c.cfg.MaxReconnectWait).
		WithMaxRetries(c.cfg.MaxReconnects).
		OnRetry(func(e failsafe.ExecutionEvent[*websocket.Conn]) {
			c.logger.Warn("websocket dial failed, retrying", "attempt", e.Attempts(), "error", e.LastError())
		}).
		ReturnLastFailure().
		Build()

	return failsafe.With[*websocket.Conn](policy).WithContext(ctx).Get(func() (*websocket.Conn, error) {
		spanCtx, span := c.tracer.Start(ctx, "WS Connect", trace.WithAttributes(attribute.String("ws.url", c.url)))
		defer span.End()
		c.connCounter.Add(spanCtx, 1)

		conn, _, err := c.dialer.DialContext(spanCtx, c.url, nil)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})
		return conn, nil
	})
}

// serve runs the heartbeat and read loop for one connection
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	// unblock ReadMessage on shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		c.closeConn()
	}()

	if c.cfg.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.heartbeat(connCtx, cancel, conn)
		}()
	}

	c.readLoop(connCtx, conn)
	cancel()
	wg.Wait()
}

func (c *Client) heartbeat(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingWait))
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("ping failed", "error", err)
				cancel()
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		start := time.Now()
		c.msgCounter.Add(ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
		c.latencyHist.Record(ctx, time.Since(start).Seconds())
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
