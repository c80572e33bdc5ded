package indicator

import (
	"testing"

	"cryptoflow/internal/model"
)

func candleAt(pair string, windowStartMs int64, close, volume float64) model.Candle {
	return model.Candle{
		Pair:          pair,
		Open:          model.DecimalFromFloat(close),
		High:          model.DecimalFromFloat(close),
		Low:           model.DecimalFromFloat(close),
		Close:         model.DecimalFromFloat(close),
		Volume:        model.DecimalFromFloat(volume),
		WindowStartMs: windowStartMs,
		WindowEndMs:   windowStartMs + 60_000,
		CandleSeconds: 60,
		SchemaVersion: model.SchemaVersion,
	}
}

func feedCloses(e *Engine, pair string, closes []float64) model.IndicatorRecord {
	var rec model.IndicatorRecord
	for i, c := range closes {
		rec = e.Process(candleAt(pair, int64(i)*60_000, c, 1))
	}
	return rec
}

func TestEngineAttachesIndicatorsWhenHistorySuffices(t *testing.T) {
	e := NewEngine(70, []int{7}, []int{7}, []int{14})

	rec := feedCloses(e, "BTC/USD", []float64{10, 20, 30, 40, 50, 60})
	if _, ok := rec.Indicator("sma_7"); ok {
		t.Error("sma_7 must be absent with 6 candles buffered")
	}

	rec = e.Process(candleAt("BTC/USD", 6*60_000, 70, 1))
	v, ok := rec.Indicator("sma_7")
	if !ok || !almostEqual(v, 40) {
		t.Errorf("sma_7 = %v (ok=%v), want 40", v, ok)
	}
	v, ok = rec.Indicator("ema_7")
	if !ok || !almostEqual(v, 40) {
		t.Errorf("ema_7 = %v (ok=%v), want 40 (SMA seed)", v, ok)
	}
	if _, ok := rec.Indicator("rsi_14"); ok {
		t.Error("rsi_14 must be absent with 7 candles buffered")
	}
}

func TestEngineOBVPresentFromFirstCandle(t *testing.T) {
	e := NewEngine(70, nil, nil, nil)
	rec := e.Process(candleAt("BTC/USD", 0, 100, 5))
	v, ok := rec.Indicator("obv")
	if !ok || !almostEqual(v, 0) {
		t.Errorf("obv on first candle = %v (ok=%v), want 0", v, ok)
	}
}

func TestEngineRSIAllUp(t *testing.T) {
	e := NewEngine(70, nil, nil, []int{14})
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rec := feedCloses(e, "BTC/USD", closes)
	v, ok := rec.Indicator("rsi_14")
	if !ok || !almostEqual(v, 100) {
		t.Errorf("rsi_14 = %v (ok=%v), want 100", v, ok)
	}
}

func TestEnginePairsAreIsolated(t *testing.T) {
	e := NewEngine(70, []int{3}, nil, nil)

	feedCloses(e, "BTC/USD", []float64{10, 20, 30})
	rec := e.Process(candleAt("ETH/USD", 0, 100, 1))

	if _, ok := rec.Indicator("sma_3"); ok {
		t.Error("ETH/USD must not see BTC/USD history")
	}
	if e.BufferDepth("BTC/USD") != 3 || e.BufferDepth("ETH/USD") != 1 {
		t.Errorf("buffer depths = %d/%d, want 3/1",
			e.BufferDepth("BTC/USD"), e.BufferDepth("ETH/USD"))
	}
}

func TestEngineSnapshotRecomputesSameWindow(t *testing.T) {
	// Re-emission of the open window replaces the buffered candle, so
	// the indicator reflects the latest close, not a duplicate append.
	e := NewEngine(70, []int{3}, nil, nil)

	feedCloses(e, "BTC/USD", []float64{10, 20, 30})
	rec := e.Process(candleAt("BTC/USD", 2*60_000, 60, 1)) // same window, new close

	v, ok := rec.Indicator("sma_3")
	if !ok || !almostEqual(v, 30) {
		t.Errorf("sma_3 after re-emission = %v, want (10+20+60)/3 = 30", v)
	}
	if e.BufferDepth("BTC/USD") != 3 {
		t.Errorf("buffer depth = %d, want 3 (dedupe, not append)", e.BufferDepth("BTC/USD"))
	}
}

func TestEngineBufferBounded(t *testing.T) {
	e := NewEngine(5, nil, nil, nil)
	for i := 0; i < 20; i++ {
		e.Process(candleAt("BTC/USD", int64(i)*60_000, 100, 1))
	}
	if d := e.BufferDepth("BTC/USD"); d != 5 {
		t.Errorf("buffer depth = %d, want bound 5", d)
	}
}

func TestEngineRecordCarriesCandleFields(t *testing.T) {
	e := NewEngine(70, nil, nil, nil)
	rec := e.Process(candleAt("BTC/USD", 120_000, 99.5, 3))

	if rec.Pair != "BTC/USD" || rec.Close != 99.5 || rec.Volume != 3 {
		t.Errorf("record fields wrong: %+v", rec)
	}
	if rec.WindowStartMs != 120_000 || rec.WindowEndMs != 180_000 || rec.CandleSeconds != 60 {
		t.Errorf("window fields wrong: %+v", rec)
	}
	if rec.SchemaVersion != model.SchemaVersion {
		t.Errorf("schema_version = %q", rec.SchemaVersion)
	}
}
