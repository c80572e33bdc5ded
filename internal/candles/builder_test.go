package candles

import "testing"

func TestBuilderRolloverAtExactBoundary(t *testing.T) {
	b := NewBuilder(60, false)

	if out := b.Process(trade("BTC/USD", "100", "1", 119_999)); len(out) != 0 {
		t.Fatalf("no emission expected before rollover, got %d", len(out))
	}

	// 120_000 starts the next window; the previous one is finalized.
	out := b.Process(trade("BTC/USD", "101", "1", 120_000))
	if len(out) != 1 {
		t.Fatalf("expected 1 finalized candle, got %d", len(out))
	}
	final := out[0]
	if final.WindowStartMs != 60_000 || final.WindowEndMs != 120_000 {
		t.Errorf("finalized window = [%d, %d), want [60000, 120000)", final.WindowStartMs, final.WindowEndMs)
	}
	if final.Close != "100" {
		t.Errorf("finalized close = %s, want 100", final.Close)
	}
	if b.OpenWindows() != 1 {
		t.Errorf("open windows = %d, want 1 (the new window)", b.OpenWindows())
	}
}

func TestBuilderEmitIncompleteSnapshots(t *testing.T) {
	b := NewBuilder(60, true)

	out := b.Process(trade("BTC/USD", "100", "1", 60_000))
	if len(out) != 1 {
		t.Fatalf("expected opening snapshot, got %d emissions", len(out))
	}
	if out[0].Close != "100" || out[0].Volume != "1" {
		t.Errorf("snapshot = c%s v%s, want c100 v1", out[0].Close, out[0].Volume)
	}

	out = b.Process(trade("BTC/USD", "110", "2", 61_000))
	if len(out) != 1 {
		t.Fatalf("expected updated snapshot, got %d emissions", len(out))
	}
	if out[0].WindowStartMs != 60_000 {
		t.Errorf("snapshot window_start_ms = %d, want 60000 (same window re-emitted)", out[0].WindowStartMs)
	}
	if out[0].Close != "110" || out[0].Volume != "3" {
		t.Errorf("snapshot = c%s v%s, want c110 v3", out[0].Close, out[0].Volume)
	}

	// Rollover emits the final old candle plus the new window's snapshot.
	out = b.Process(trade("BTC/USD", "120", "1", 120_000))
	if len(out) != 2 {
		t.Fatalf("expected [final, new snapshot], got %d emissions", len(out))
	}
	if out[0].WindowStartMs != 60_000 || out[1].WindowStartMs != 120_000 {
		t.Errorf("emission order wrong: starts %d, %d", out[0].WindowStartMs, out[1].WindowStartMs)
	}
}

func TestBuilderDropsLateTrade(t *testing.T) {
	b := NewBuilder(60, false)
	var lates []string
	b.OnLateTrade = func(pair string) { lates = append(lates, pair) }

	b.Process(trade("BTC/USD", "100", "1", 120_000))

	// Behind the open window: dropped, state untouched.
	if out := b.Process(trade("BTC/USD", "999", "1", 119_000)); len(out) != 0 {
		t.Errorf("late trade must not emit, got %d", len(out))
	}
	if len(lates) != 1 || lates[0] != "BTC/USD" {
		t.Errorf("late callback = %v, want [BTC/USD]", lates)
	}

	out := b.FlushAll()
	if len(out) != 1 || out[0].Close != "100" {
		t.Fatalf("open window corrupted by late trade: %+v", out)
	}
}

func TestBuilderDropsTradeForFlushedWindow(t *testing.T) {
	b := NewBuilder(60, true)
	var lates []string
	b.OnLateTrade = func(pair string) { lates = append(lates, pair) }

	b.Process(trade("BTC/USD", "100", "1", 60_000))
	b.Process(trade("BTC/USD", "100", "2", 61_000))

	out := b.FlushOlderThan(130_000)
	if len(out) != 1 || out[0].Volume != "3" {
		t.Fatalf("idle flush = %+v, want the v3 candle", out)
	}
	if b.OpenWindows() != 0 {
		t.Fatalf("open windows = %d after flush, want 0", b.OpenWindows())
	}

	// A straggler inside the flushed window must not reopen it: the
	// final candle already went out and a fresh snapshot would supersede
	// it downstream.
	if out := b.Process(trade("BTC/USD", "50", "6", 80_000)); len(out) != 0 {
		t.Fatalf("trade for flushed window emitted %+v, want nothing", out)
	}
	if len(lates) != 1 || lates[0] != "BTC/USD" {
		t.Errorf("late callback = %v, want [BTC/USD]", lates)
	}
	if b.OpenWindows() != 0 {
		t.Errorf("open windows = %d, want 0 (flushed window must stay closed)", b.OpenWindows())
	}

	// The next window is unaffected.
	out = b.Process(trade("BTC/USD", "101", "1", 120_000))
	if len(out) != 1 || out[0].WindowStartMs != 120_000 {
		t.Fatalf("next window emission = %+v, want snapshot at 120000", out)
	}
}

func TestBuilderDropsTradeAfterFlushAll(t *testing.T) {
	b := NewBuilder(60, false)
	var lates int
	b.OnLateTrade = func(string) { lates++ }

	b.Process(trade("ETH/USD", "10", "5", 60_000))
	if out := b.FlushAll(); len(out) != 1 {
		t.Fatalf("FlushAll = %+v, want 1 candle", out)
	}

	if out := b.Process(trade("ETH/USD", "11", "1", 90_000)); len(out) != 0 {
		t.Fatalf("trade for finalized window emitted %+v, want nothing", out)
	}
	if lates != 1 {
		t.Errorf("late drops = %d, want 1", lates)
	}
}

func TestBuilderPairsAreIndependent(t *testing.T) {
	b := NewBuilder(60, false)

	b.Process(trade("BTC/USD", "100", "1", 60_000))
	b.Process(trade("ETH/USD", "10", "5", 60_000))

	// A rollover on BTC/USD must not finalize ETH/USD.
	out := b.Process(trade("BTC/USD", "101", "1", 120_000))
	if len(out) != 1 || out[0].Pair != "BTC/USD" {
		t.Fatalf("expected only the BTC/USD finalization, got %+v", out)
	}
	if b.OpenWindows() != 2 {
		t.Errorf("open windows = %d, want 2", b.OpenWindows())
	}
}

func TestBuilderFlushOlderThan(t *testing.T) {
	b := NewBuilder(60, false)

	b.Process(trade("BTC/USD", "100", "1", 60_000))  // window ends 120_000
	b.Process(trade("ETH/USD", "10", "5", 120_000))  // window ends 180_000

	out := b.FlushOlderThan(120_000)
	if len(out) != 1 || out[0].Pair != "BTC/USD" {
		t.Fatalf("expected only the expired BTC/USD window, got %+v", out)
	}
	if b.OpenWindows() != 1 {
		t.Errorf("open windows = %d, want 1", b.OpenWindows())
	}

	// Nothing left that ended by 150_000.
	if out := b.FlushOlderThan(150_000); len(out) != 0 {
		t.Errorf("expected no flush, got %+v", out)
	}
}

func TestBuilderFlushAllEmitsEverything(t *testing.T) {
	b := NewBuilder(60, false)
	b.Process(trade("BTC/USD", "100", "1", 60_000))
	b.Process(trade("ETH/USD", "10", "5", 60_000))

	out := b.FlushAll()
	if len(out) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(out))
	}
	if b.OpenWindows() != 0 {
		t.Errorf("open windows = %d after FlushAll, want 0", b.OpenWindows())
	}
}
