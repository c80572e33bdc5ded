package model

import (
	"strings"
	"testing"
	"time"
)

func validTrade(now time.Time) Trade {
	return Trade{
		Pair:        "BTC/USD",
		Price:       "100.5",
		Quantity:    "0.25",
		TimestampMs: now.UnixMilli(),
	}
}

func TestTradeValidate_Accepts(t *testing.T) {
	now := time.Now()
	tr := validTrade(now)
	if err := tr.Validate(now, 0); err != nil {
		t.Fatalf("valid trade rejected: %v", err)
	}

	// Zero quantity is legal (some venues report zero-size corrections).
	tr.Quantity = "0"
	if err := tr.Validate(now, 0); err != nil {
		t.Errorf("zero-quantity trade rejected: %v", err)
	}
}

func TestTradeValidate_Rejects(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*Trade)
	}{
		{"empty pair", func(tr *Trade) { tr.Pair = "" }},
		{"zero price", func(tr *Trade) { tr.Price = "0" }},
		{"negative price", func(tr *Trade) { tr.Price = "-1" }},
		{"price above bound", func(tr *Trade) { tr.Price = "10000001" }},
		{"negative quantity", func(tr *Trade) { tr.Quantity = "-0.1" }},
		{"quantity above bound", func(tr *Trade) { tr.Quantity = "1000000001" }},
		{"older than 24h", func(tr *Trade) { tr.TimestampMs = now.Add(-25 * time.Hour).UnixMilli() }},
		{"too far in future", func(tr *Trade) { tr.TimestampMs = now.Add(2 * time.Minute).UnixMilli() }},
	}

	for _, tc := range cases {
		tr := validTrade(now)
		tc.mutate(&tr)
		if err := tr.Validate(now, 0); err == nil {
			t.Errorf("%s: expected rejection, got nil", tc.name)
		}
	}
}

func TestTradeValidate_ClockSkewBoundaries(t *testing.T) {
	now := time.Now()

	// 59s in the future is inside the skew tolerance; 61s is not.
	tr := validTrade(now)
	tr.TimestampMs = now.Add(59 * time.Second).UnixMilli()
	if err := tr.Validate(now, 0); err != nil {
		t.Errorf("59s future trade rejected: %v", err)
	}

	tr.TimestampMs = now.Add(61 * time.Second).UnixMilli()
	if err := tr.Validate(now, 0); err == nil {
		t.Error("61s future trade accepted")
	}

	// 23h-old trade is inside the default window.
	tr.TimestampMs = now.Add(-23 * time.Hour).UnixMilli()
	if err := tr.Validate(now, 0); err != nil {
		t.Errorf("23h-old trade rejected: %v", err)
	}
}

func TestTradeValidate_HistoricalWidensAge(t *testing.T) {
	now := time.Now()
	tr := validTrade(now)
	tr.TimestampMs = now.Add(-6 * 24 * time.Hour).UnixMilli()

	// Default window rejects a 6-day-old trade...
	if err := tr.Validate(now, 0); err == nil {
		t.Error("6-day-old trade accepted with default window")
	}
	// ...a 7-day backfill horizon accepts it.
	if err := tr.Validate(now, 7*24*time.Hour); err != nil {
		t.Errorf("6-day-old trade rejected with 7d window: %v", err)
	}
}

func TestTradeValidate_NegativeMaxAgeDisablesRecency(t *testing.T) {
	now := time.Now()
	tr := validTrade(now)
	tr.TimestampMs = now.Add(-90 * 24 * time.Hour).UnixMilli()

	if err := tr.Validate(now, -1); err != nil {
		t.Errorf("recency-exempt trade rejected: %v", err)
	}

	// The future bound still applies.
	tr.TimestampMs = now.Add(2 * time.Minute).UnixMilli()
	if err := tr.Validate(now, -1); err == nil {
		t.Error("future trade accepted with recency check disabled")
	}
}

func TestTradeJSON_DecimalPreserved(t *testing.T) {
	tr := Trade{Pair: "ETH/EUR", Price: "1820.10", Quantity: "0.002100", TimestampMs: 1000, SchemaVersion: SchemaVersion}
	got := string(tr.JSON())
	if !strings.Contains(got, `"price":"1820.10"`) {
		t.Errorf("price lost its decimal form: %s", got)
	}
	if !strings.Contains(got, `"quantity":"0.002100"`) {
		t.Errorf("quantity lost its decimal form: %s", got)
	}
}
