package indengine

import (
	"context"
	"testing"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/logger"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
)

var testMetrics = metrics.NewMetrics("indengine_test")

// tailConsumer serves canned stream tails; everything else is inert.
type tailConsumer struct {
	tails map[string][]model.StreamMessage
}

func (f *tailConsumer) EnsureGroups(context.Context, []string, string) error { return nil }
func (f *tailConsumer) Consume(ctx context.Context, _ []string, _ chan<- model.StreamMessage) error {
	<-ctx.Done()
	return nil
}
func (f *tailConsumer) RecoverPending(context.Context, []string, chan<- model.StreamMessage) error {
	return nil
}
func (f *tailConsumer) Ack(context.Context, string, string) {}
func (f *tailConsumer) ReplayFromID(context.Context, string, string, chan<- model.StreamMessage) (string, error) {
	return "", nil
}
func (f *tailConsumer) TailN(_ context.Context, stream string, _ int64) ([]model.StreamMessage, error) {
	return f.tails[stream], nil
}
func (f *tailConsumer) DiscoverStreams(context.Context, string) ([]string, error) { return nil, nil }
func (f *tailConsumer) StartPELReclaimer(context.Context, []string, time.Duration, time.Duration,
	chan<- model.StreamMessage, func(int)) {
}
func (f *tailConsumer) Close() error { return nil }

type recordCapture struct {
	records []model.IndicatorRecord
}

func (w *recordCapture) WriteIndicatorRecord(_ context.Context, rec model.IndicatorRecord) error {
	w.records = append(w.records, rec)
	return nil
}

func (w *recordCapture) Close() error { return nil }

func testIndicatorsConfig() *config.Indicators {
	return &config.Indicators{
		InputTopic:        "candles",
		OutputTopic:       "technical_indicators",
		ConsumerGroup:     "indengine_test_group",
		CandleSeconds:     60,
		ProcessingMode:    "live",
		MaxCandlesInState: 70,
		SMAPeriods:        []int{7},
		EMAPeriods:        []int{7},
		RSIPeriods:        []int{14},
	}
}

func tailCandle(id string, pair string, windowStartMs int64, candleSeconds int) model.StreamMessage {
	c := model.Candle{
		Pair:          pair,
		Open:          "100",
		High:          "101",
		Low:           "99",
		Close:         "100.5",
		Volume:        "2",
		WindowStartMs: windowStartMs,
		WindowEndMs:   windowStartMs + int64(candleSeconds)*1000,
		CandleSeconds: candleSeconds,
		SchemaVersion: model.SchemaVersion,
	}
	return model.StreamMessage{Stream: "candles:" + pair, ID: id, Data: c.JSON()}
}

func TestPrimeBuffersFiltersForeignCandleWidths(t *testing.T) {
	cfg := testIndicatorsConfig()
	stream := "candles:BTC/USD"
	fc := &tailConsumer{tails: map[string][]model.StreamMessage{
		stream: {
			tailCandle("1-0", "BTC/USD", 60_000, 60),
			tailCandle("2-0", "BTC/USD", 0, 300), // different aggregation job
			tailCandle("3-0", "BTC/USD", 120_000, 60),
			{Stream: stream, ID: "4-0", Data: []byte("{broken")},
		},
	}}

	svc := New(cfg, fc, &recordCapture{}, nil, nil, testMetrics,
		logger.Init("indengine-test", "ERROR", "text"))
	svc.streams = []string{stream}

	svc.primeBuffers(context.Background())

	if depth := svc.engine.BufferDepth("BTC/USD"); depth != 2 {
		t.Errorf("buffer depth = %d, want 2 (only 60s candles primed)", depth)
	}

	// Priming still advances the cursor past every tail entry, filtered
	// or not, so the delta replay does not refetch them.
	svc.mu.Lock()
	last := svc.streamIDs[stream]
	svc.mu.Unlock()
	if last != "4-0" {
		t.Errorf("stream cursor = %q, want 4-0", last)
	}
}

func TestPrimeBuffersMatchesLiveFilter(t *testing.T) {
	// A cold start followed by live consumption must treat a foreign
	// width the same in both paths: never folded into the buffers.
	cfg := testIndicatorsConfig()
	stream := "candles:ETH/USD"
	foreign := tailCandle("1-0", "ETH/USD", 0, 300)
	fc := &tailConsumer{tails: map[string][]model.StreamMessage{stream: {foreign}}}

	w := &recordCapture{}
	svc := New(cfg, fc, w, nil, nil, testMetrics,
		logger.Init("indengine-test", "ERROR", "text"))
	svc.streams = []string{stream}

	svc.primeBuffers(context.Background())
	if depth := svc.engine.BufferDepth("ETH/USD"); depth != 0 {
		t.Fatalf("priming folded a foreign-width candle, depth = %d", depth)
	}

	svc.handleCandle(context.Background(), foreign)
	if depth := svc.engine.BufferDepth("ETH/USD"); depth != 0 {
		t.Fatalf("live path folded a foreign-width candle, depth = %d", depth)
	}
	if len(w.records) != 0 {
		t.Errorf("published %d records from filtered candles, want 0", len(w.records))
	}
}
