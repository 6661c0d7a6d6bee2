package apperrors

import (
	"errors"
	"fmt"
)

// Pipeline errors
var (
	ErrInvalidBook   = errors.New("invalid order book")
	ErrInvalidTrade  = errors.New("invalid trade")
	ErrConfiguration = errors.New("configuration error")
	ErrDataOrdering  = errors.New("data not time-ordered")
	ErrSinkClosed    = errors.New("instruction sink closed")
	ErrRunNotFound   = errors.New("run not found")
)

// InvalidBookError describes why a snapshot was rejected
type InvalidBookError struct {
	Timestamp float64
	Reason    string
}

func (e *InvalidBookError) Error() string {
	return fmt.Sprintf("invalid order book at %.6f: %s", e.Timestamp, e.Reason)
}

func (e *InvalidBookError) Unwrap() error { return ErrInvalidBook }

// InvalidTradeError describes why a trade event was dropped
type InvalidTradeError struct {
	Timestamp float64
	TradeID   string
	Reason    string
}

func (e *InvalidTradeError) Error() string {
	if e.TradeID != "" {
		return fmt.Sprintf("invalid trade %s at %.6f: %s", e.TradeID, e.Timestamp, e.Reason)
	}
	return fmt.Sprintf("invalid trade at %.6f: %s", e.Timestamp, e.Reason)
}

func (e *InvalidTradeError) Unwrap() error { return ErrInvalidTrade }

// ConfigurationError is returned when a component is built with invalid settings
type ConfigurationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config validation error for %s (value: %v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DataOrderingError reports the first out-of-order record of a backtest input stream
type DataOrderingError struct {
	Stream string
	Index  int
	Prev   float64
	Got    float64
}

func (e *DataOrderingError) Error() string {
	return fmt.Sprintf("%s stream not time-ordered at index %d: %.6f after %.6f", e.Stream, e.Index, e.Got, e.Prev)
}

func (e *DataOrderingError) Unwrap() error { return ErrDataOrdering }
