package candles

import "cryptoflow/internal/model"

// Builder maintains at most one open window per pair and turns the
// trade stream into candle emissions. Windows are tumbling and anchored
// to the epoch: a trade at tsMs lands in [tsMs - tsMs%w, +w).
//
// With emitIncomplete set, every trade re-emits the updated open candle
// as a running snapshot; downstream consumers dedupe on window_start_ms
// (last write wins). Without it only finalized windows are emitted.
//
// Builder is not goroutine-safe: the service drives it from a single
// loop.
type Builder struct {
	candleSeconds  int
	emitIncomplete bool
	windows        map[string]model.Candle

	// finalized holds the highest finalized window_start per pair. A
	// trade at or below it would reopen a window whose final candle
	// already went out, so it is dropped instead.
	finalized map[string]int64

	// OnLateTrade is called when a trade for an already-finalized window
	// is dropped (optional, metrics).
	OnLateTrade func(pair string)
}

// NewBuilder creates a builder for the given window width.
func NewBuilder(candleSeconds int, emitIncomplete bool) *Builder {
	return &Builder{
		candleSeconds:  candleSeconds,
		emitIncomplete: emitIncomplete,
		windows:        make(map[string]model.Candle),
		finalized:      make(map[string]int64),
	}
}

// Process folds one trade into its pair's window and returns the
// candles to publish, oldest first. A trade behind the open window, or
// at or behind the pair's newest finalized window, is dropped: its
// window was already finalized and emitted, and reopening it would
// supersede a complete candle with a partial one downstream.
func (b *Builder) Process(t model.Trade) []model.Candle {
	start := model.WindowStartFor(t.TimestampMs, b.candleSeconds)

	if hw, ok := b.finalized[t.Pair]; ok && start <= hw {
		if b.OnLateTrade != nil {
			b.OnLateTrade(t.Pair)
		}
		return nil
	}

	cur, open := b.windows[t.Pair]
	if open && start < cur.WindowStartMs {
		if b.OnLateTrade != nil {
			b.OnLateTrade(t.Pair)
		}
		return nil
	}

	var out []model.Candle

	if open && start > cur.WindowStartMs {
		// Rollover: the open window's last snapshot becomes final.
		out = append(out, cur)
		b.finalized[t.Pair] = cur.WindowStartMs
		open = false
	}

	if !open {
		next := Init(t, b.candleSeconds)
		b.windows[t.Pair] = next
		if b.emitIncomplete {
			out = append(out, next)
		}
		return out
	}

	cur = Update(cur, t)
	b.windows[t.Pair] = cur
	if b.emitIncomplete {
		out = append(out, cur)
	}
	return out
}

// FlushOlderThan finalizes open windows that ended at or before nowMs.
// Covers idle pairs whose window passed with no newer trade to force a
// rollover.
func (b *Builder) FlushOlderThan(nowMs int64) []model.Candle {
	var out []model.Candle
	for pair, c := range b.windows {
		if c.WindowEndMs <= nowMs {
			out = append(out, c)
			b.finalized[pair] = c.WindowStartMs
			delete(b.windows, pair)
		}
	}
	return out
}

// FlushAll finalizes every open window. Called on shutdown so no
// aggregated trades are lost.
func (b *Builder) FlushAll() []model.Candle {
	out := make([]model.Candle, 0, len(b.windows))
	for pair, c := range b.windows {
		out = append(out, c)
		b.finalized[pair] = c.WindowStartMs
		delete(b.windows, pair)
	}
	return out
}

// OpenWindows returns the number of currently open windows.
func (b *Builder) OpenWindows() int { return len(b.windows) }
