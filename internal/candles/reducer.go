// Package candles aggregates raw trades into tumbling-window OHLCV
// candles. The reducer is a pair of pure functions; the builder keys
// them by pair across epoch-anchored event-time windows.
package candles

import "cryptoflow/internal/model"

// Init starts a candle from the first trade of a window. All four
// prices open at the trade price and volume starts at its quantity.
func Init(t model.Trade, candleSeconds int) model.Candle {
	start := model.WindowStartFor(t.TimestampMs, candleSeconds)
	return model.Candle{
		Pair:          t.Pair,
		Open:          t.Price,
		High:          t.Price,
		Low:           t.Price,
		Close:         t.Price,
		Volume:        t.Quantity,
		WindowStartMs: start,
		WindowEndMs:   start + int64(candleSeconds)*1000,
		CandleSeconds: candleSeconds,
		SchemaVersion: model.SchemaVersion,
	}
}

// Update folds a same-window trade into the candle. Open is set once by
// Init and never touched again; close always tracks the latest trade.
func Update(c model.Candle, t model.Trade) model.Candle {
	p := t.Price.Float64()
	if p > c.High.Float64() {
		c.High = t.Price
	}
	if p < c.Low.Float64() {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = model.DecimalFromFloat(c.Volume.Float64() + t.Quantity.Float64())
	return c
}
