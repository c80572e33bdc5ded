package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// IndicatorRecord is a candle enriched with technical indicator values.
// The indicator set is dynamic (one field per configured period), so the
// record marshals to a flat JSON object: the fixed candle fields plus one
// numeric field per present indicator (e.g. "sma_7", "rsi_14", "obv").
// Numeric candle fields are plain JSON numbers here — the RisingWave table
// decodes them into FLOAT columns.
type IndicatorRecord struct {
	Pair          string
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	WindowStartMs int64
	WindowEndMs   int64
	CandleSeconds int
	SchemaVersion string

	// Indicators holds the computed values keyed by field name. Absent
	// means not enough history or a non-finite result.
	Indicators map[string]float64
}

// RecordFromCandle projects a wire candle onto the numeric fields of an
// indicator record. No indicators are attached yet.
func RecordFromCandle(c Candle) IndicatorRecord {
	return IndicatorRecord{
		Pair:          c.Pair,
		Open:          c.Open.Float64(),
		High:          c.High.Float64(),
		Low:           c.Low.Float64(),
		Close:         c.Close.Float64(),
		Volume:        c.Volume.Float64(),
		WindowStartMs: c.WindowStartMs,
		WindowEndMs:   c.WindowEndMs,
		CandleSeconds: c.CandleSeconds,
		SchemaVersion: SchemaVersion,
	}
}

// Key returns the partition key for this record.
func (r *IndicatorRecord) Key() string { return r.Pair }

// Indicator returns the named indicator value and whether it is present.
func (r *IndicatorRecord) Indicator(name string) (float64, bool) {
	v, ok := r.Indicators[name]
	return v, ok
}

// Set attaches an indicator value. Non-finite values are silently dropped —
// the wire contract is "absent", never NaN.
func (r *IndicatorRecord) Set(name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if r.Indicators == nil {
		r.Indicators = make(map[string]float64, 16)
	}
	r.Indicators[name] = v
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *IndicatorRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// fixedFields are the non-indicator keys of the flat JSON object.
var fixedFields = map[string]bool{
	"pair":            true,
	"open":            true,
	"high":            true,
	"low":             true,
	"close":           true,
	"volume":          true,
	"window_start_ms": true,
	"window_end_ms":   true,
	"candle_seconds":  true,
	"schema_version":  true,
}

// MarshalJSON flattens the record into a single JSON object. Map marshaling
// sorts keys, so output is deterministic.
func (r IndicatorRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 10+len(r.Indicators))
	out["pair"] = r.Pair
	out["open"] = r.Open
	out["high"] = r.High
	out["low"] = r.Low
	out["close"] = r.Close
	out["volume"] = r.Volume
	out["window_start_ms"] = r.WindowStartMs
	out["window_end_ms"] = r.WindowEndMs
	out["candle_seconds"] = r.CandleSeconds
	if r.SchemaVersion != "" {
		out["schema_version"] = r.SchemaVersion
	}
	for name, v := range r.Indicators {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON: fixed fields by name, every other
// numeric field becomes an indicator value. Unknown non-numeric fields are
// ignored per the topic contract.
func (r *IndicatorRecord) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	get := func(key string, dst interface{}) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}
	if err := get("pair", &r.Pair); err != nil {
		return fmt.Errorf("pair: %w", err)
	}
	for key, dst := range map[string]*float64{
		"open": &r.Open, "high": &r.High, "low": &r.Low,
		"close": &r.Close, "volume": &r.Volume,
	} {
		var d Decimal // tolerate string-encoded numbers from older producers
		if err := get(key, &d); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d.Float64()
	}
	if err := get("window_start_ms", &r.WindowStartMs); err != nil {
		return fmt.Errorf("window_start_ms: %w", err)
	}
	if err := get("window_end_ms", &r.WindowEndMs); err != nil {
		return fmt.Errorf("window_end_ms: %w", err)
	}
	if err := get("candle_seconds", &r.CandleSeconds); err != nil {
		return fmt.Errorf("candle_seconds: %w", err)
	}
	if err := get("schema_version", &r.SchemaVersion); err != nil {
		return fmt.Errorf("schema_version: %w", err)
	}

	r.Indicators = nil
	for key, v := range raw {
		if fixedFields[key] {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			continue
		}
		if r.Indicators == nil {
			r.Indicators = make(map[string]float64, len(raw))
		}
		r.Indicators[key] = f
	}
	return nil
}
