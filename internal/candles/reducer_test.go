package candles

import (
	"testing"

	"cryptoflow/internal/model"
)

func trade(pair, price, qty string, tsMs int64) model.Trade {
	return model.Trade{
		Pair:          pair,
		Price:         model.Decimal(price),
		Quantity:      model.Decimal(qty),
		TimestampMs:   tsMs,
		SchemaVersion: model.SchemaVersion,
	}
}

func TestInitSingleTradeWindow(t *testing.T) {
	c := Init(trade("BTC/USD", "100.5", "2", 61_000), 60)

	if c.Open != "100.5" || c.High != "100.5" || c.Low != "100.5" || c.Close != "100.5" {
		t.Errorf("all prices should equal the trade price, got o=%s h=%s l=%s c=%s",
			c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != "2" {
		t.Errorf("volume = %s, want 2", c.Volume)
	}
	if c.WindowStartMs != 60_000 || c.WindowEndMs != 120_000 {
		t.Errorf("window = [%d, %d), want [60000, 120000)", c.WindowStartMs, c.WindowEndMs)
	}
	if c.CandleSeconds != 60 {
		t.Errorf("candle_seconds = %d, want 60", c.CandleSeconds)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("single-trade candle should validate: %v", err)
	}
}

func TestUpdateThreeTradeOHLC(t *testing.T) {
	c := Init(trade("BTC/USD", "100", "1", 60_000), 60)
	c = Update(c, trade("BTC/USD", "120", "2", 60_500))
	c = Update(c, trade("BTC/USD", "90", "3", 61_000))

	if c.Open != "100" {
		t.Errorf("open = %s, want 100 (first trade, never modified)", c.Open)
	}
	if c.High != "120" {
		t.Errorf("high = %s, want 120", c.High)
	}
	if c.Low != "90" {
		t.Errorf("low = %s, want 90", c.Low)
	}
	if c.Close != "90" {
		t.Errorf("close = %s, want 90 (latest trade)", c.Close)
	}
	if c.Volume != "6" {
		t.Errorf("volume = %s, want 6", c.Volume)
	}
}

func TestUpdatePreservesDecimalStrings(t *testing.T) {
	// Prices that pass through unmodified must keep their exact string
	// form, trailing zeros included.
	c := Init(trade("ETH/EUR", "1820.10", "0.50", 0), 60)
	c = Update(c, trade("ETH/EUR", "1820.10", "0.25", 100))

	if c.Open != "1820.10" || c.Close != "1820.10" {
		t.Errorf("decimal strings mangled: o=%s c=%s", c.Open, c.Close)
	}
}

func TestWindowStartForAlignment(t *testing.T) {
	tests := []struct {
		tsMs          int64
		candleSeconds int
		want          int64
	}{
		{0, 60, 0},
		{59_999, 60, 0},
		{60_000, 60, 60_000},
		{119_999, 60, 60_000},
		{120_000, 60, 120_000},
		{1_700_000_123_456, 60, 1_700_000_100_000},
		{999, 1, 0},
		{1_000, 1, 1_000},
	}
	for _, tt := range tests {
		if got := model.WindowStartFor(tt.tsMs, tt.candleSeconds); got != tt.want {
			t.Errorf("WindowStartFor(%d, %d) = %d, want %d", tt.tsMs, tt.candleSeconds, got, tt.want)
		}
	}
}
