package indicator

import (
	"encoding/json"
	"time"

	"cryptoflow/internal/model"
)

// EngineSnapshot is the engine's periodic checkpoint: the buffered
// candles of every pair plus the last log position seen per input
// stream. On restart the buffers are restored and only entries after
// the recorded positions are replayed.
type EngineSnapshot struct {
	SchemaVersion string                   `json:"schema_version"`
	SavedAtMs     int64                    `json:"saved_at_ms"`
	StreamIDs     map[string]string        `json:"stream_ids"`
	Buffers       map[string][]model.Candle `json:"buffers"`
}

// Snapshot captures the engine state. streamIDs maps each input stream
// to the last entry ID folded into the buffers.
func (e *Engine) Snapshot(streamIDs map[string]string) *EngineSnapshot {
	buffers := make(map[string][]model.Candle, len(e.buffers))
	for pair, buf := range e.buffers {
		buffers[pair] = buf.Candles()
	}
	ids := make(map[string]string, len(streamIDs))
	for k, v := range streamIDs {
		ids[k] = v
	}
	return &EngineSnapshot{
		SchemaVersion: model.SchemaVersion,
		SavedAtMs:     time.Now().UnixMilli(),
		StreamIDs:     ids,
		Buffers:       buffers,
	}
}

// Restore refills the per-pair buffers from a snapshot. Existing state
// is discarded. Buffers longer than the engine's bound are truncated to
// the newest candles by the Add eviction.
func (e *Engine) Restore(snap *EngineSnapshot) {
	e.buffers = make(map[string]*Buffer, len(snap.Buffers))
	for pair, candles := range snap.Buffers {
		buf := NewBuffer(e.maxCandles)
		for _, c := range candles {
			buf.Add(c)
		}
		e.buffers[pair] = buf
	}
}

// Marshal encodes the snapshot for the snapshot stores.
func (s *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a stored snapshot. Returns nil for empty
// input so callers can treat "no snapshot" uniformly.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
