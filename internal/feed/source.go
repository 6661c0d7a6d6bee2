// Package feed turns a WebSocket market data stream into pipeline ticks
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/pkg/websocket"

	"github.com/shopspring/decimal"
)

// Message is the wire format of one market data update.
// Type "book" carries Bids/Asks, type "trade" carries Price/Size/Side.
type Message struct {
	Type      string           `json:"type"`
	Symbol    string           `json:"symbol,omitempty"`
	Timestamp float64          `json:"timestamp"`
	Bids      [][2]json.Number `json:"bids,omitempty"`
	Asks      [][2]json.Number `json:"asks,omitempty"`
	Price     json.Number      `json:"price,omitempty"`
	Size      json.Number      `json:"size,omitempty"`
	Side      string           `json:"side,omitempty"`
	TradeID   string           `json:"trade_id,omitempty"`
}

// Subscription is sent after every (re)connect
type Subscription struct {
	Op       string   `json:"op"`
	Symbol   string   `json:"symbol"`
	Channels []string `json:"channels"`
}

// WebSocketSource implements core.ITickSource over a WebSocket connection
type WebSocketSource struct {
	symbol string
	client *websocket.Client
	logger core.ILogger

	out       chan<- core.Tick
	ctx       context.Context
	malformed atomic.Int64
	received  atomic.Int64
}

// NewWebSocketSource builds a source from the feed config
func NewWebSocketSource(cfg config.FeedConfig, symbol string, logger core.ILogger) *WebSocketSource {
	s := &WebSocketSource{
		symbol: symbol,
		logger: logger.WithField("component", "feed").WithField("symbol", symbol),
	}

	wsCfg := websocket.DefaultConfig()
	wsCfg.MaxReconnects = cfg.ReconnectAttempts
	if cfg.ReconnectDelayMs > 0 {
		wsCfg.ReconnectWait = time.Duration(cfg.ReconnectDelayMs) * time.Millisecond
	}
	if cfg.PingIntervalSeconds > 0 {
		wsCfg.PingInterval = time.Duration(cfg.PingIntervalSeconds) * time.Second
		wsCfg.PongWait = 2 * wsCfg.PingInterval
	}

	s.client = websocket.NewClient(cfg.URL, s.handle, wsCfg, logger)
	s.client.SetOnConnected(func(c *websocket.Client) error {
		return c.Send(Subscription{Op: "subscribe", Symbol: symbol, Channels: []string{"book", "trade"}})
	})
	return s
}

// Run streams ticks into out until ctx is cancelled or the connection is lost for good.
// Delivery blocks when out is full.
func (s *WebSocketSource) Run(ctx context.Context, out chan<- core.Tick) error {
	s.ctx = ctx
	s.out = out
	return s.client.Run(ctx)
}

// Stats returns received and malformed message counts
func (s *WebSocketSource) Stats() (received, malformed int64) {
	return s.received.Load(), s.malformed.Load()
}

func (s *WebSocketSource) handle(raw []byte) {
	s.received.Add(1)
	tick, ok, err := Decode(raw)
	if err != nil {
		s.malformed.Add(1)
		s.logger.Warn("dropping malformed message", "error", err)
		return
	}
	if !ok {
		return
	}
	select {
	case s.out <- tick:
	case <-s.ctx.Done():
	}
}

// Decode parses one message. ok is false for message types that carry no tick
// such as subscription acknowledgements.
func Decode(raw []byte) (core.Tick, bool, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return core.Tick{}, false, fmt.Errorf("invalid json: %w", err)
	}

	switch m.Type {
	case "book":
		bids, err := levels(m.Bids)
		if err != nil {
			return core.Tick{}, false, fmt.Errorf("bids: %w", err)
		}
		asks, err := levels(m.Asks)
		if err != nil {
			return core.Tick{}, false, fmt.Errorf("asks: %w", err)
		}
		return core.BookTick(&core.OrderBookSnapshot{Timestamp: m.Timestamp, Bids: bids, Asks: asks}), true, nil

	case "trade":
		price, err := decimal.NewFromString(m.Price.String())
		if err != nil {
			return core.Tick{}, false, fmt.Errorf("price: %w", err)
		}
		size, err := decimal.NewFromString(m.Size.String())
		if err != nil {
			return core.Tick{}, false, fmt.Errorf("size: %w", err)
		}
		return core.TradeTick(&core.TradeEvent{
			Timestamp: m.Timestamp,
			Price:     price,
			Size:      size,
			Side:      core.Side(m.Side),
			TradeID:   m.TradeID,
		}), true, nil

	default:
		return core.Tick{}, false, nil
	}
}

func levels(raw [][2]json.Number) ([]core.PriceLevel, error) {
	out := make([]core.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		p, err := decimal.NewFromString(lv[0].String())
		if err != nil {
			return nil, err
		}
		sz, err := decimal.NewFromString(lv[1].String())
		if err != nil {
			return nil, err
		}
		out = append(out, core.PriceLevel{Price: p, Size: sz})
	}
	return out, nil
}
