package predict

import "cryptoflow/internal/model"

// Threshold policy of the placeholder model: mean-reversion on rsi_14.
const (
	rsiOversold   = 30
	rsiOverbought = 70

	defaultRSI   = 50
	defaultClose = 100
)

// dummyRSIModel is a deterministic stand-in until a real model is
// trained: oversold pairs are predicted to bounce 2% up, overbought
// ones 2% down, everything else to hold.
type dummyRSIModel struct{}

func init() {
	m := dummyRSIModel{}
	Register("dummy_rsi_model", m)
	// The config default resolves to the same policy.
	Register("default_model", m)
}

func (dummyRSIModel) Name() string { return "dummy_rsi_model" }

func (dummyRSIModel) Predict(rec model.IndicatorRecord) (Output, error) {
	rsi, ok := rec.Indicator("rsi_14")
	if !ok {
		rsi = defaultRSI
	}
	close := rec.Close
	if close == 0 {
		close = defaultClose
	}

	out := Output{
		ConfidenceScore: 0.5,
		FeaturesUsed:    []string{"rsi_14", "close"},
		PredictionType:  model.PredictionTypePriceDirection,
	}
	switch {
	case rsi < rsiOversold:
		out.PredictionValue = close * 1.02
		out.ConfidenceScore = 0.7
		out.SignalStrength = signal(0.5)
	case rsi > rsiOverbought:
		out.PredictionValue = close * 0.98
		out.ConfidenceScore = 0.7
		out.SignalStrength = signal(-0.5)
	default:
		out.PredictionValue = close
		out.SignalStrength = signal(0)
	}
	return out, nil
}

func signal(v float64) *float64 { return &v }
