package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func validPrediction(now time.Time) Prediction {
	sig := 0.5
	rec := RecordFromCandle(validCandle())
	return Prediction{
		Pair:                     "BTC/USD",
		PredictionTimestampMs:    now.UnixMilli(),
		PredictionValue:          1020,
		ConfidenceScore:          0.7,
		ModelName:                "dummy_rsi_model",
		ModelVersion:             "1.0.0",
		PredictionHorizonMinutes: 5,
		FeaturesUsed:             []string{"rsi_14", "close"},
		InputIndicators:          rec,
		SignalStrength:           &sig,
		PredictionType:           PredictionTypePriceDirection,
		SchemaVersion:            SchemaVersion,
	}
}

func TestPredictionValidate(t *testing.T) {
	now := time.Now()
	vp := validPrediction(now)
	if err := vp.Validate(now); err != nil {
		t.Fatalf("valid prediction rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Prediction)
	}{
		{"empty pair", func(p *Prediction) { p.Pair = "" }},
		{"zero value", func(p *Prediction) { p.PredictionValue = 0 }},
		{"confidence above 1", func(p *Prediction) { p.ConfidenceScore = 1.1 }},
		{"confidence below 0", func(p *Prediction) { p.ConfidenceScore = -0.1 }},
		{"signal out of range", func(p *Prediction) { s := 1.5; p.SignalStrength = &s }},
		{"zero horizon", func(p *Prediction) { p.PredictionHorizonMinutes = 0 }},
		{"no features", func(p *Prediction) { p.FeaturesUsed = nil }},
		{"blank model name", func(p *Prediction) { p.ModelName = "  " }},
		{"blank model version", func(p *Prediction) { p.ModelVersion = "" }},
		{"stale timestamp", func(p *Prediction) { p.PredictionTimestampMs = now.Add(-25 * time.Hour).UnixMilli() }},
	}
	for _, tc := range cases {
		p := validPrediction(now)
		tc.mutate(&p)
		if err := p.Validate(now); err == nil {
			t.Errorf("%s: expected rejection, got nil", tc.name)
		}
	}

	// Nil signal strength is legal; the field is optional.
	p := validPrediction(now)
	p.SignalStrength = nil
	if err := p.Validate(now); err != nil {
		t.Errorf("nil signal strength rejected: %v", err)
	}
}

func TestPredictionMarshal_DecimalStrings(t *testing.T) {
	now := time.Now()
	p := validPrediction(now)
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"prediction_value":"1020"`) {
		t.Errorf("prediction_value not string-encoded: %s", s)
	}
	if !strings.Contains(s, `"confidence_score":"0.7"`) {
		t.Errorf("confidence_score not string-encoded: %s", s)
	}
	if !strings.Contains(s, `"signal_strength":"0.5"`) {
		t.Errorf("signal_strength not string-encoded: %s", s)
	}
}

func TestPredictionMarshal_OmitsNilSignal(t *testing.T) {
	now := time.Now()
	p := validPrediction(now)
	p.SignalStrength = nil
	b, _ := json.Marshal(p)
	if strings.Contains(string(b), "signal_strength") {
		t.Errorf("nil signal strength emitted: %s", b)
	}
}

func TestPredictionRoundTrip(t *testing.T) {
	now := time.Now()
	p := validPrediction(now)
	b, _ := json.Marshal(p)

	var back Prediction
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Pair != p.Pair || back.PredictionValue != 1020 || back.ConfidenceScore != 0.7 {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if back.SignalStrength == nil || *back.SignalStrength != 0.5 {
		t.Errorf("signal strength lost: %+v", back.SignalStrength)
	}
	if back.InputIndicators.Close != 110 {
		t.Errorf("input indicators lost: %+v", back.InputIndicators)
	}
	if err := back.Validate(now); err != nil {
		t.Errorf("round-tripped prediction invalid: %v", err)
	}
}
