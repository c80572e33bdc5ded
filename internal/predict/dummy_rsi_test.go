package predict

import (
	"math"
	"testing"

	"cryptoflow/internal/model"
)

func record(close float64, indicators map[string]float64) model.IndicatorRecord {
	return model.IndicatorRecord{
		Pair:          "BTC/USD",
		Close:         close,
		WindowStartMs: 60_000,
		WindowEndMs:   120_000,
		CandleSeconds: 60,
		SchemaVersion: model.SchemaVersion,
		Indicators:    indicators,
	}
}

func TestDummyRSIOversold(t *testing.T) {
	m, err := Lookup("dummy_rsi_model")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	out, err := m.Predict(record(1000, map[string]float64{"rsi_14": 25}))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.Abs(out.PredictionValue-1020) > 1e-9 {
		t.Errorf("prediction_value = %v, want 1020", out.PredictionValue)
	}
	if out.ConfidenceScore != 0.7 {
		t.Errorf("confidence = %v, want 0.7", out.ConfidenceScore)
	}
	if out.SignalStrength == nil || *out.SignalStrength != 0.5 {
		t.Errorf("signal_strength = %v, want 0.5", out.SignalStrength)
	}
}

func TestDummyRSIOverbought(t *testing.T) {
	m, _ := Lookup("dummy_rsi_model")
	out, err := m.Predict(record(1000, map[string]float64{"rsi_14": 80}))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.Abs(out.PredictionValue-980) > 1e-9 {
		t.Errorf("prediction_value = %v, want 980", out.PredictionValue)
	}
	if out.SignalStrength == nil || *out.SignalStrength != -0.5 {
		t.Errorf("signal_strength = %v, want -0.5", out.SignalStrength)
	}
}

func TestDummyRSINeutral(t *testing.T) {
	m, _ := Lookup("dummy_rsi_model")
	out, err := m.Predict(record(1000, map[string]float64{"rsi_14": 50}))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if out.PredictionValue != 1000 {
		t.Errorf("prediction_value = %v, want 1000 (hold)", out.PredictionValue)
	}
	if out.ConfidenceScore != 0.5 {
		t.Errorf("confidence = %v, want 0.5", out.ConfidenceScore)
	}
	if out.SignalStrength == nil || *out.SignalStrength != 0 {
		t.Errorf("signal_strength = %v, want 0", out.SignalStrength)
	}
}

func TestDummyRSIDefaults(t *testing.T) {
	m, _ := Lookup("dummy_rsi_model")

	// Missing rsi_14 defaults to 50, missing close to 100.
	out, err := m.Predict(record(0, nil))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if out.PredictionValue != 100 {
		t.Errorf("prediction_value = %v, want default close 100", out.PredictionValue)
	}

	if len(out.FeaturesUsed) == 0 {
		t.Error("features_used must not be empty")
	}
	if out.PredictionType != model.PredictionTypePriceDirection {
		t.Errorf("prediction_type = %q", out.PredictionType)
	}
}

func TestDefaultModelAlias(t *testing.T) {
	m, err := Lookup("default_model")
	if err != nil {
		t.Fatalf("default_model must resolve: %v", err)
	}
	if m.Name() != "dummy_rsi_model" {
		t.Errorf("default_model resolves to %q, want dummy_rsi_model", m.Name())
	}
}

func TestLookupUnknownModel(t *testing.T) {
	if _, err := Lookup("no_such_model"); err == nil {
		t.Error("unknown model name must error")
	}
}
