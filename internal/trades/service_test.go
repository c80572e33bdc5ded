package trades

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/logger"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
)

var testMetrics = metrics.NewMetrics("trades_test")

type fakeSource struct {
	batches [][]model.Trade
	errs    []error
	calls   int
	done    bool
}

func (f *fakeSource) GetTrades(ctx context.Context) ([]model.Trade, error) {
	if f.calls >= len(f.batches) {
		f.done = true
		return nil, nil
	}
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.batches[i], err
}

func (f *fakeSource) IsDone() bool { return f.done }
func (f *fakeSource) Close() error { return nil }

type captureWriter struct {
	trades []model.Trade
	err    error
}

func (w *captureWriter) WriteTrade(_ context.Context, t model.Trade) error {
	if w.err != nil {
		return w.err
	}
	w.trades = append(w.trades, t)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func testTradesConfig(mode string) *config.Trades {
	return &config.Trades{
		OutputTopic:    "trades",
		ProcessingMode: mode,
		ProductIDs:     []string{"BTC/USD"},
		LastNDays:      1,
		RESTThrottleMS: 1,
	}
}

func liveTrade(price string, age time.Duration) model.Trade {
	return model.Trade{
		Pair:          "BTC/USD",
		Price:         model.Decimal(price),
		Quantity:      "1",
		TimestampMs:   time.Now().Add(-age).UnixMilli(),
		SchemaVersion: model.SchemaVersion,
	}
}

func TestServicePublishesValidTrades(t *testing.T) {
	src := &fakeSource{batches: [][]model.Trade{
		{liveTrade("100", time.Minute), liveTrade("101", time.Second)},
	}}
	w := &captureWriter{}
	svc := NewService(testTradesConfig("live"), src, w, testMetrics, logger.Init("trades-test", "ERROR", "text"))

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.trades) != 2 {
		t.Fatalf("published %d trades, want 2", len(w.trades))
	}
	if w.trades[0].Price != "100" || w.trades[1].Price != "101" {
		t.Errorf("order lost: %v, %v", w.trades[0].Price, w.trades[1].Price)
	}
}

func TestServiceDropsInvalidTrades(t *testing.T) {
	bad := liveTrade("-5", time.Minute) // negative price
	stale := liveTrade("100", 48*time.Hour)
	src := &fakeSource{batches: [][]model.Trade{
		{bad, stale, liveTrade("100", time.Minute)},
	}}
	w := &captureWriter{}
	svc := NewService(testTradesConfig("live"), src, w, testMetrics, logger.Init("trades-test", "ERROR", "text"))

	svc.Run(context.Background())
	if len(w.trades) != 1 {
		t.Fatalf("published %d trades, want 1 (invalid ones dropped)", len(w.trades))
	}
}

func TestServiceHistoricalModeWidensAgeBound(t *testing.T) {
	// 20h old is stale for the backfill default only if maxAge stayed
	// at the live bound; with LastNDays=1 the bound is 25h.
	old := liveTrade("100", 20*time.Hour)
	src := &fakeSource{batches: [][]model.Trade{{old}}}
	w := &captureWriter{}
	svc := NewService(testTradesConfig("historical"), src, w, testMetrics, logger.Init("trades-test", "ERROR", "text"))

	svc.Run(context.Background())
	if len(w.trades) != 1 {
		t.Fatalf("published %d trades, want 1 (historical bound covers 25h)", len(w.trades))
	}
}

func TestServiceExitsWhenSourceDone(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(testTradesConfig("historical"), src, &captureWriter{}, testMetrics,
		logger.Init("trades-test", "ERROR", "text"))

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not exit after the source finished")
	}
}

func TestServiceStopsOnFatalSourceError(t *testing.T) {
	cause := errors.New("subscribe rejected for FOO/USD")
	src := &fakeSource{
		batches: [][]model.Trade{nil, {liveTrade("100", time.Minute)}},
		errs:    []error{&FatalError{Err: cause}},
	}
	w := &captureWriter{}
	svc := NewService(testTradesConfig("live"), src, w, testMetrics, logger.Init("trades-test", "ERROR", "text"))

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, cause) {
			t.Fatalf("run returned %v, want the fatal cause", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service kept retrying a fatal source error")
	}
	if len(w.trades) != 0 {
		t.Errorf("published %d trades after the fatal error, want 0", len(w.trades))
	}
}

func TestServiceRetriesAfterFetchError(t *testing.T) {
	src := &fakeSource{
		batches: [][]model.Trade{nil, {liveTrade("100", time.Minute)}},
		errs:    []error{errors.New("transient")},
	}
	w := &captureWriter{}
	svc := NewService(testTradesConfig("live"), src, w, testMetrics, logger.Init("trades-test", "ERROR", "text"))

	svc.Run(context.Background())
	if len(w.trades) != 1 {
		t.Fatalf("published %d trades, want 1 (loop survives a fetch error)", len(w.trades))
	}
}
