// Package marketdata loads recorded order book and trade streams from JSON and
// CSV files and generates synthetic datasets for smoke runs
package marketdata

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"orderflow/internal/core"
	"orderflow/internal/trading/backtest"

	"github.com/shopspring/decimal"
)

// ErrEmptyDataset is returned when a source holds no order book snapshots
var ErrEmptyDataset = errors.New("dataset has no order book snapshots")

type jsonDataset struct {
	Orderbooks []jsonBook  `json:"orderbooks"`
	Trades     []jsonTrade `json:"trades"`
}

type jsonBook struct {
	Timestamp float64          `json:"timestamp"`
	Bids      [][2]json.Number `json:"bids"`
	Asks      [][2]json.Number `json:"asks"`
}

type jsonTrade struct {
	Timestamp float64     `json:"timestamp"`
	Price     json.Number `json:"price"`
	Size      json.Number `json:"size"`
	Side      string      `json:"side"`
	TradeID   string      `json:"trade_id,omitempty"`
}

// LoadJSON reads a dataset file of the form
// {"orderbooks":[{"timestamp":..,"bids":[[p,s],..],"asks":[[p,s],..]}],"trades":[{"timestamp":..,"price":..,"size":..,"side":"buy"}]}
func LoadJSON(path, symbol string) (*backtest.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadJSON(f, symbol)
}

// ReadJSON decodes a dataset. Numbers are parsed as decimals without a float round trip.
func ReadJSON(r io.Reader, symbol string) (*backtest.Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw jsonDataset
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}

	ds := &backtest.Dataset{Symbol: symbol}
	for i, b := range raw.Orderbooks {
		bids, err := levels(b.Bids)
		if err != nil {
			return nil, fmt.Errorf("orderbooks[%d].bids: %w", i, err)
		}
		asks, err := levels(b.Asks)
		if err != nil {
			return nil, fmt.Errorf("orderbooks[%d].asks: %w", i, err)
		}
		ds.Snapshots = append(ds.Snapshots, &core.OrderBookSnapshot{Timestamp: b.Timestamp, Bids: bids, Asks: asks})
	}
	for i, t := range raw.Trades {
		price, err := decimal.NewFromString(t.Price.String())
		if err != nil {
			return nil, fmt.Errorf("trades[%d].price: %w", i, err)
		}
		size, err := decimal.NewFromString(t.Size.String())
		if err != nil {
			return nil, fmt.Errorf("trades[%d].size: %w", i, err)
		}
		ds.Trades = append(ds.Trades, &core.TradeEvent{
			Timestamp: t.Timestamp,
			Price:     price,
			Size:      size,
			Side:      normalizeSide(t.Side),
			TradeID:   t.TradeID,
		})
	}

	if len(ds.Snapshots) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

func levels(raw [][2]json.Number) ([]core.PriceLevel, error) {
	out := make([]core.PriceLevel, 0, len(raw))
	for i, lv := range raw {
		p, err := decimal.NewFromString(lv[0].String())
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		s, err := decimal.NewFromString(lv[1].String())
		if err != nil {
			return nil, fmt.Errorf("level %d size: %w", i, err)
		}
		out = append(out, core.PriceLevel{Price: p, Size: s})
	}
	return out, nil
}

// WriteJSON encodes ds in the format ReadJSON accepts
func WriteJSON(w io.Writer, ds *backtest.Dataset) error {
	raw := jsonDataset{
		Orderbooks: make([]jsonBook, 0, len(ds.Snapshots)),
		Trades:     make([]jsonTrade, 0, len(ds.Trades)),
	}
	for _, s := range ds.Snapshots {
		raw.Orderbooks = append(raw.Orderbooks, jsonBook{Timestamp: s.Timestamp, Bids: numbers(s.Bids), Asks: numbers(s.Asks)})
	}
	for _, t := range ds.Trades {
		raw.Trades = append(raw.Trades, jsonTrade{
			Timestamp: t.Timestamp,
			Price:     json.Number(t.Price.String()),
			Size:      json.Number(t.Size.String()),
			Side:      string(t.Side),
			TradeID:   t.TradeID,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

func numbers(lvls []core.PriceLevel) [][2]json.Number {
	out := make([][2]json.Number, 0, len(lvls))
	for _, l := range lvls {
		out = append(out, [2]json.Number{json.Number(l.Price.String()), json.Number(l.Size.String())})
	}
	return out
}

// LoadCSV reads top-of-book snapshots (timestamp,bid_price,bid_size,ask_price,ask_size)
// and, when tradesPath is set, trades (timestamp,price,size,side[,trade_id]).
// Columns are matched by header name.
func LoadCSV(orderbookPath, tradesPath, symbol string) (*backtest.Dataset, error) {
	f, err := os.Open(orderbookPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open orderbook csv: %w", err)
	}
	defer f.Close()

	var trades io.Reader
	if tradesPath != "" {
		tf, err := os.Open(tradesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open trades csv: %w", err)
		}
		defer tf.Close()
		trades = tf
	}
	return ReadCSV(f, trades, symbol)
}

// ReadCSV is LoadCSV over readers; trades may be nil
func ReadCSV(orderbook, trades io.Reader, symbol string) (*backtest.Dataset, error) {
	ds := &backtest.Dataset{Symbol: symbol}

	err := eachRow(orderbook, []string{"timestamp", "bid_price", "bid_size", "ask_price", "ask_size"}, func(line int, get func(string) string) error {
		ts, err := strconv.ParseFloat(get("timestamp"), 64)
		if err != nil {
			return fmt.Errorf("line %d timestamp: %w", line, err)
		}
		vals, err := decimals(line, get, "bid_price", "bid_size", "ask_price", "ask_size")
		if err != nil {
			return err
		}
		ds.Snapshots = append(ds.Snapshots, &core.OrderBookSnapshot{
			Timestamp: ts,
			Bids:      []core.PriceLevel{{Price: vals[0], Size: vals[1]}},
			Asks:      []core.PriceLevel{{Price: vals[2], Size: vals[3]}},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("orderbook csv: %w", err)
	}

	if trades != nil {
		err = eachRow(trades, []string{"timestamp", "price", "size", "side"}, func(line int, get func(string) string) error {
			ts, err := strconv.ParseFloat(get("timestamp"), 64)
			if err != nil {
				return fmt.Errorf("line %d timestamp: %w", line, err)
			}
			vals, err := decimals(line, get, "price", "size")
			if err != nil {
				return err
			}
			ds.Trades = append(ds.Trades, &core.TradeEvent{
				Timestamp: ts,
				Price:     vals[0],
				Size:      vals[1],
				Side:      normalizeSide(get("side")),
				TradeID:   get("trade_id"),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("trades csv: %w", err)
		}
	}

	if len(ds.Snapshots) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

func eachRow(r io.Reader, required []string, fn func(line int, get func(string) string) error) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("missing column %q", name)
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if err := fn(line, get); err != nil {
			return err
		}
	}
}

func decimals(line int, get func(string) string, names ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(names))
	for i, name := range names {
		v, err := decimal.NewFromString(get(name))
		if err != nil {
			return nil, fmt.Errorf("line %d %s: %w", line, name, err)
		}
		out[i] = v
	}
	return out, nil
}

// normalizeSide lower-cases the side; unknown values pass through and are
// rejected later by trade validation
func normalizeSide(s string) core.Side {
	return core.Side(strings.ToLower(strings.TrimSpace(s)))
}
