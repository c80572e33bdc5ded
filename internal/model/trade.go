package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is stamped on every record the pipeline produces.
const SchemaVersion = "1.0"

// Sanity bounds for trade validation. Anything beyond these is treated as
// feed corruption rather than market data.
const (
	MaxTradePrice    = 10_000_000
	MaxTradeQuantity = 1_000_000_000

	// MaxTradeFuture is the clock-skew tolerance for trades timestamped
	// ahead of the local clock.
	MaxTradeFuture = 60 * time.Second

	// DefaultMaxTradeAge is the live-mode recency bound. Historical
	// backfill widens it to cover the requested lookback.
	DefaultMaxTradeAge = 24 * time.Hour
)

// Trade is a single raw trade event from the exchange, normalized to
// event-time milliseconds.
type Trade struct {
	Pair          string  `json:"pair"`
	Price         Decimal `json:"price"`
	Quantity      Decimal `json:"quantity"`
	TimestampMs   int64   `json:"timestamp_ms"`
	SchemaVersion string  `json:"schema_version,omitempty"`
}

// Key returns the partition key for this trade.
func (t *Trade) Key() string { return t.Pair }

// JSON returns the JSON-encoded trade (ignoring errors for hot-path usage).
func (t *Trade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Validate checks the trade against the sanity bounds and the allowed
// timestamp window [now-maxAge, now+60s]. maxAge == 0 selects the default
// 24h bound, a negative maxAge disables the recency check entirely, and
// historical ingestion passes its lookback horizon instead. The future
// bound always applies.
func (t *Trade) Validate(now time.Time, maxAge time.Duration) error {
	if t.Pair == "" {
		return errors.New("pair is empty")
	}
	p := t.Price.Float64()
	if p <= 0 {
		return fmt.Errorf("price must be positive, got %q", t.Price)
	}
	if p > MaxTradePrice {
		return fmt.Errorf("price %q exceeds sanity bound %d", t.Price, MaxTradePrice)
	}
	q := t.Quantity.Float64()
	if q < 0 {
		return fmt.Errorf("quantity must be non-negative, got %q", t.Quantity)
	}
	if q > MaxTradeQuantity {
		return fmt.Errorf("quantity %q exceeds sanity bound %d", t.Quantity, MaxTradeQuantity)
	}
	if maxAge == 0 {
		maxAge = DefaultMaxTradeAge
	}
	ts := time.UnixMilli(t.TimestampMs)
	if maxAge > 0 && ts.Before(now.Add(-maxAge)) {
		return fmt.Errorf("timestamp_ms %d older than %s", t.TimestampMs, maxAge)
	}
	if ts.After(now.Add(MaxTradeFuture)) {
		return fmt.Errorf("timestamp_ms %d is in the future", t.TimestampMs)
	}
	return nil
}
