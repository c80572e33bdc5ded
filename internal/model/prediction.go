package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PredictionTypePriceDirection is the default prediction_type.
const PredictionTypePriceDirection = "price_direction"

// Prediction is the output of a model applied to one indicator record.
// prediction_value, confidence_score and signal_strength travel as decimal
// strings for consistency with the candle topics.
type Prediction struct {
	Pair                     string          `json:"pair"`
	PredictionTimestampMs    int64           `json:"prediction_timestamp_ms"`
	PredictionValue          float64         `json:"-"`
	ConfidenceScore          float64         `json:"-"`
	ModelName                string          `json:"model_name"`
	ModelVersion             string          `json:"model_version"`
	PredictionHorizonMinutes int             `json:"prediction_horizon_minutes"`
	FeaturesUsed             []string        `json:"features_used"`
	InputIndicators          IndicatorRecord `json:"input_indicators"`
	SignalStrength           *float64        `json:"-"`
	PredictionType           string          `json:"prediction_type"`
	SchemaVersion            string          `json:"schema_version"`
}

// Key returns the partition key for this prediction.
func (p *Prediction) Key() string { return p.Pair }

// JSON returns the JSON-encoded prediction (ignoring errors for hot-path usage).
func (p *Prediction) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}

// predictionWire carries the string-encoded numeric fields.
type predictionWire struct {
	Pair                     string          `json:"pair"`
	PredictionTimestampMs    int64           `json:"prediction_timestamp_ms"`
	PredictionValue          Decimal         `json:"prediction_value"`
	ConfidenceScore          Decimal         `json:"confidence_score"`
	ModelName                string          `json:"model_name"`
	ModelVersion             string          `json:"model_version"`
	PredictionHorizonMinutes int             `json:"prediction_horizon_minutes"`
	FeaturesUsed             []string        `json:"features_used"`
	InputIndicators          IndicatorRecord `json:"input_indicators"`
	SignalStrength           *Decimal        `json:"signal_strength,omitempty"`
	PredictionType           string          `json:"prediction_type"`
	SchemaVersion            string          `json:"schema_version"`
}

func (p Prediction) MarshalJSON() ([]byte, error) {
	w := predictionWire{
		Pair:                     p.Pair,
		PredictionTimestampMs:    p.PredictionTimestampMs,
		PredictionValue:          DecimalFromFloat(p.PredictionValue),
		ConfidenceScore:          DecimalFromFloat(p.ConfidenceScore),
		ModelName:                p.ModelName,
		ModelVersion:             p.ModelVersion,
		PredictionHorizonMinutes: p.PredictionHorizonMinutes,
		FeaturesUsed:             p.FeaturesUsed,
		InputIndicators:          p.InputIndicators,
		PredictionType:           p.PredictionType,
		SchemaVersion:            p.SchemaVersion,
	}
	if p.SignalStrength != nil {
		d := DecimalFromFloat(*p.SignalStrength)
		w.SignalStrength = &d
	}
	return json.Marshal(w)
}

func (p *Prediction) UnmarshalJSON(b []byte) error {
	var w predictionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p.Pair = w.Pair
	p.PredictionTimestampMs = w.PredictionTimestampMs
	p.PredictionValue = w.PredictionValue.Float64()
	p.ConfidenceScore = w.ConfidenceScore.Float64()
	p.ModelName = w.ModelName
	p.ModelVersion = w.ModelVersion
	p.PredictionHorizonMinutes = w.PredictionHorizonMinutes
	p.FeaturesUsed = w.FeaturesUsed
	p.InputIndicators = w.InputIndicators
	p.PredictionType = w.PredictionType
	p.SchemaVersion = w.SchemaVersion
	if w.SignalStrength != nil {
		f := w.SignalStrength.Float64()
		p.SignalStrength = &f
	}
	return nil
}

// Validate enforces the prediction contract. Invalid predictions are logged
// and dropped, never emitted.
func (p *Prediction) Validate(now time.Time) error {
	if p.Pair == "" {
		return errors.New("pair is empty")
	}
	if p.PredictionValue <= 0 {
		return fmt.Errorf("prediction_value must be positive, got %v", p.PredictionValue)
	}
	if p.ConfidenceScore < 0 || p.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score %v outside [0,1]", p.ConfidenceScore)
	}
	if p.SignalStrength != nil && (*p.SignalStrength < -1 || *p.SignalStrength > 1) {
		return fmt.Errorf("signal_strength %v outside [-1,1]", *p.SignalStrength)
	}
	if p.PredictionHorizonMinutes <= 0 {
		return fmt.Errorf("prediction_horizon_minutes must be positive, got %d", p.PredictionHorizonMinutes)
	}
	if len(p.FeaturesUsed) == 0 {
		return errors.New("features_used is empty")
	}
	if strings.TrimSpace(p.ModelName) == "" {
		return errors.New("model_name is empty")
	}
	if strings.TrimSpace(p.ModelVersion) == "" {
		return errors.New("model_version is empty")
	}
	diff := time.UnixMilli(p.PredictionTimestampMs).Sub(now)
	if diff < 0 {
		diff = -diff
	}
	if diff > 24*time.Hour {
		return fmt.Errorf("prediction_timestamp_ms %d more than 24h from now", p.PredictionTimestampMs)
	}
	return nil
}
