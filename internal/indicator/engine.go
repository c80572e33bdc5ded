package indicator

import (
	"fmt"

	"cryptoflow/internal/model"
)

// Engine turns the candle stream into indicator records. It keeps one
// bounded Buffer per pair and recomputes the full indicator set from
// the buffered series after every candle. Pairs never interact.
//
// Not goroutine-safe; the service drives it from a single loop.
type Engine struct {
	maxCandles int
	smaPeriods []int
	emaPeriods []int
	rsiPeriods []int

	buffers map[string]*Buffer

	// OnBufferDepth is called after each Process with the pair's buffer
	// depth (optional, metrics).
	OnBufferDepth func(pair string, depth int)
}

// NewEngine creates an engine with the configured period sets and
// per-pair buffer bound.
func NewEngine(maxCandles int, smaPeriods, emaPeriods, rsiPeriods []int) *Engine {
	return &Engine{
		maxCandles: maxCandles,
		smaPeriods: smaPeriods,
		emaPeriods: emaPeriods,
		rsiPeriods: rsiPeriods,
		buffers:    make(map[string]*Buffer),
	}
}

// Process buffers the candle and returns its indicator record. Each
// indicator field is attached only when enough history exists; OBV is
// defined from the first candle (value 0).
func (e *Engine) Process(c model.Candle) model.IndicatorRecord {
	buf, ok := e.buffers[c.Pair]
	if !ok {
		buf = NewBuffer(e.maxCandles)
		e.buffers[c.Pair] = buf
	}
	buf.Add(c)
	if e.OnBufferDepth != nil {
		e.OnBufferDepth(c.Pair, buf.Len())
	}

	closes := buf.Closes()
	rec := model.RecordFromCandle(c)

	for _, p := range e.smaPeriods {
		if v, ok := SMA(closes, p); ok {
			rec.Set(fmt.Sprintf("sma_%d", p), v)
		}
	}
	for _, p := range e.emaPeriods {
		if v, ok := EMA(closes, p); ok {
			rec.Set(fmt.Sprintf("ema_%d", p), v)
		}
	}
	for _, p := range e.rsiPeriods {
		if v, ok := RSI(closes, p); ok {
			rec.Set(fmt.Sprintf("rsi_%d", p), v)
		}
	}
	if line, signal, hist, ok := MACD(closes); ok {
		rec.Set(fmt.Sprintf("macd_%d", macdFast), line)
		rec.Set(fmt.Sprintf("macdsignal_%d", macdFast), signal)
		rec.Set(fmt.Sprintf("macdhist_%d", macdFast), hist)
	}
	rec.Set("obv", OBV(closes, buf.Volumes()))

	return rec
}

// BufferDepth returns the buffer depth for a pair (0 when unseen).
func (e *Engine) BufferDepth(pair string) int {
	if buf, ok := e.buffers[pair]; ok {
		return buf.Len()
	}
	return 0
}

// Pairs returns the pairs with buffered state.
func (e *Engine) Pairs() []string {
	out := make([]string, 0, len(e.buffers))
	for pair := range e.buffers {
		out = append(out, pair)
	}
	return out
}
