package indicator

import (
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	e := NewEngine(70, []int{3}, nil, nil)
	feedCloses(e, "BTC/USD", []float64{10, 20, 30})
	feedCloses(e, "ETH/USD", []float64{5, 6})

	snap := e.Snapshot(map[string]string{"candles:BTC/USD": "1700000000-3"})
	data, err := snap.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.StreamIDs["candles:BTC/USD"] != "1700000000-3" {
		t.Errorf("stream ids lost: %v", restored.StreamIDs)
	}

	e2 := NewEngine(70, []int{3}, nil, nil)
	e2.Restore(restored)
	if e2.BufferDepth("BTC/USD") != 3 || e2.BufferDepth("ETH/USD") != 2 {
		t.Errorf("restored depths = %d/%d, want 3/2",
			e2.BufferDepth("BTC/USD"), e2.BufferDepth("ETH/USD"))
	}

	// Indicators continue seamlessly from the restored buffers.
	rec := e2.Process(candleAt("BTC/USD", 3*60_000, 40, 1))
	v, ok := rec.Indicator("sma_3")
	if !ok || !almostEqual(v, 30) {
		t.Errorf("sma_3 after restore = %v, want (20+30+40)/3 = 30", v)
	}
}

func TestUnmarshalSnapshotEmpty(t *testing.T) {
	snap, err := UnmarshalSnapshot(nil)
	if err != nil || snap != nil {
		t.Errorf("empty input should yield (nil, nil), got (%v, %v)", snap, err)
	}
}

func TestRestoreTruncatesOversizedBuffers(t *testing.T) {
	e := NewEngine(70, nil, nil, nil)
	for i := 0; i < 10; i++ {
		e.Process(candleAt("BTC/USD", int64(i)*60_000, float64(i), 1))
	}
	snap := e.Snapshot(nil)

	// A smaller bound on restore keeps only the newest candles.
	e2 := NewEngine(4, nil, nil, nil)
	e2.Restore(snap)
	if d := e2.BufferDepth("BTC/USD"); d != 4 {
		t.Errorf("restored depth = %d, want 4", d)
	}
}
