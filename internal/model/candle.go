package model

import (
	"encoding/json"
	"fmt"
)

// Candle is an OHLCV aggregate of the trades in one tumbling event-time
// window. Prices and volume are decimal-preserving strings on the wire;
// arithmetic happens on Float64 projections. While a window is open the
// same (pair, window_start_ms) is emitted repeatedly as a running snapshot;
// the last emission before a newer window opens is the final word.
type Candle struct {
	Pair          string  `json:"pair"`
	Open          Decimal `json:"open"`
	High          Decimal `json:"high"`
	Low           Decimal `json:"low"`
	Close         Decimal `json:"close"`
	Volume        Decimal `json:"volume"`
	WindowStartMs int64   `json:"window_start_ms"`
	WindowEndMs   int64   `json:"window_end_ms"`
	CandleSeconds int     `json:"candle_seconds"`
	SchemaVersion string  `json:"schema_version,omitempty"`
}

// Key returns the partition key for this candle.
func (c *Candle) Key() string { return c.Pair }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Validate checks the OHLC ordering and window invariants. Callers log
// violations and keep the candle flowing; validation never blocks the stream.
func (c *Candle) Validate() error {
	if c.Pair == "" {
		return fmt.Errorf("pair is empty")
	}
	o, h, l, cl := c.Open.Float64(), c.High.Float64(), c.Low.Float64(), c.Close.Float64()
	if o <= 0 || h <= 0 || l <= 0 || cl <= 0 {
		return fmt.Errorf("non-positive price in candle o=%s h=%s l=%s c=%s", c.Open, c.High, c.Low, c.Close)
	}
	if l > o || l > cl {
		return fmt.Errorf("low %s above open %s or close %s", c.Low, c.Open, c.Close)
	}
	if h < o || h < cl {
		return fmt.Errorf("high %s below open %s or close %s", c.High, c.Open, c.Close)
	}
	if c.Volume.Float64() < 0 {
		return fmt.Errorf("negative volume %s", c.Volume)
	}
	if c.WindowEndMs <= c.WindowStartMs {
		return fmt.Errorf("window_end_ms %d not after window_start_ms %d", c.WindowEndMs, c.WindowStartMs)
	}
	widthMs := int64(c.CandleSeconds) * 1000
	if c.WindowEndMs-c.WindowStartMs != widthMs {
		return fmt.Errorf("window width %dms != candle_seconds %d", c.WindowEndMs-c.WindowStartMs, c.CandleSeconds)
	}
	if widthMs > 0 && c.WindowStartMs%widthMs != 0 {
		return fmt.Errorf("window_start_ms %d not aligned to %dms boundary", c.WindowStartMs, widthMs)
	}
	return nil
}

// WindowStartFor returns the epoch-anchored tumbling window start for a
// trade at tsMs with the given candle width.
func WindowStartFor(tsMs int64, candleSeconds int) int64 {
	w := int64(candleSeconds) * 1000
	return tsMs - tsMs%w
}
