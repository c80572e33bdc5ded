package indicator

import "cryptoflow/internal/model"

// Buffer holds the last maxLen candles of one pair in window order.
// Upstream re-emits the open window as running snapshots, so an
// arriving candle that shares window_start_ms with a buffered one
// replaces it (last write wins) instead of appending a duplicate.
type Buffer struct {
	maxLen  int
	candles []model.Candle
}

// NewBuffer creates a buffer bounded to maxLen candles.
func NewBuffer(maxLen int) *Buffer {
	return &Buffer{maxLen: maxLen, candles: make([]model.Candle, 0, maxLen)}
}

// Add inserts a candle, deduping by window_start_ms and evicting the
// oldest entry when full. Candles behind the newest buffered window
// that match no buffered entry are ignored; their window already left
// the buffer.
func (b *Buffer) Add(c model.Candle) {
	// Snapshot re-emissions overwhelmingly hit the newest entry, so
	// scan from the back.
	for i := len(b.candles) - 1; i >= 0; i-- {
		if b.candles[i].WindowStartMs == c.WindowStartMs {
			b.candles[i] = c
			return
		}
		if b.candles[i].WindowStartMs < c.WindowStartMs {
			break
		}
	}

	if n := len(b.candles); n > 0 && c.WindowStartMs < b.candles[n-1].WindowStartMs {
		return
	}

	if len(b.candles) >= b.maxLen {
		copy(b.candles, b.candles[1:])
		b.candles = b.candles[:len(b.candles)-1]
	}
	b.candles = append(b.candles, c)
}

// Len returns the number of buffered candles.
func (b *Buffer) Len() int { return len(b.candles) }

// Closes returns the buffered close series, oldest first.
func (b *Buffer) Closes() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i] = c.Close.Float64()
	}
	return out
}

// Volumes returns the buffered volume series, oldest first.
func (b *Buffer) Volumes() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i] = c.Volume.Float64()
	}
	return out
}

// Candles returns a copy of the buffered candles for snapshotting.
func (b *Buffer) Candles() []model.Candle {
	out := make([]model.Candle, len(b.candles))
	copy(out, b.candles)
	return out
}
