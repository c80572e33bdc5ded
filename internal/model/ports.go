package model

import (
	"context"
	"time"
)

// ── Storage and transport port interfaces ──
// These decouple the service loops from the concrete backends (Redis
// Streams, SQLite, RisingWave). Each backend satisfies one or more of them.

// StreamMessage is one raw log entry as delivered by a consumer group.
// Data holds the record JSON; Stream and ID identify the entry for ACKing
// after the outputs it produced have been flushed.
type StreamMessage struct {
	Stream string
	ID     string
	Data   []byte
}

// TradeWriter publishes trades to the log.
type TradeWriter interface {
	WriteTrade(ctx context.Context, t Trade) error
	Close() error
}

// CandleWriter publishes candles to the log.
type CandleWriter interface {
	WriteCandle(ctx context.Context, c Candle) error
	Close() error
}

// IndicatorWriter publishes indicator records to the log.
type IndicatorWriter interface {
	WriteIndicatorRecord(ctx context.Context, rec IndicatorRecord) error
	Close() error
}

// PredictionWriter publishes predictions to the log.
type PredictionWriter interface {
	WritePrediction(ctx context.Context, p Prediction) error
	Close() error
}

// StreamConsumer consumes log entries via consumer groups with
// at-least-once semantics: entries stay pending until Ack.
type StreamConsumer interface {
	// EnsureGroups creates the consumer group on each stream if missing.
	// Start is "$" (new entries only) or "0" (from the earliest entry).
	EnsureGroups(ctx context.Context, streams []string, start string) error

	// Consume blocks reading new entries for this consumer and sends them
	// to out. Returns when ctx is cancelled.
	Consume(ctx context.Context, streams []string, out chan<- StreamMessage) error

	// RecoverPending re-delivers this group's unACKed entries from a
	// previous run.
	RecoverPending(ctx context.Context, streams []string, out chan<- StreamMessage) error

	// Ack acknowledges a processed entry.
	Ack(ctx context.Context, stream, id string)

	// ReplayFromID reads entries after startID (exclusive) outside the
	// consumer group, for state reconstruction. Returns the last ID read.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- StreamMessage) (string, error)

	// TailN returns up to n most recent entries of a stream in ascending
	// ID order, outside the consumer group.
	TailN(ctx context.Context, stream string, n int64) ([]StreamMessage, error)

	// DiscoverStreams lists existing streams with the given topic prefix.
	DiscoverStreams(ctx context.Context, topic string) ([]string, error)

	// StartPELReclaimer periodically claims entries stuck with dead
	// consumers of the same group and re-delivers them to out.
	StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration,
		minIdle time.Duration, out chan<- StreamMessage, onReclaim func(count int))

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	SaveSnapshotJSON(ctx context.Context, data []byte) error
	ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error)
}

// IndicatorSink mirrors indicator records into the streaming-SQL store.
// All methods are non-fatal by contract: callers log errors and continue.
type IndicatorSink interface {
	EnsureTable(ctx context.Context) error
	WriteRecord(ctx context.Context, rec IndicatorRecord) error
	Close()
}
