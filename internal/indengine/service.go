// Package indengine orchestrates the indicator engine service: restore
// state, prime buffers from the log, then consume the candles topic and
// publish indicator records to the log and the streaming-SQL sink.
package indengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/indicator"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
)

const (
	discoverInterval = 5 * time.Second
	reclaimInterval  = 30 * time.Second
	reclaimMinIdle   = 60 * time.Second
)

// Service wires the indicator engine between the candles topic and the
// indicators topic. Candle entries are acked only after the record they
// produced has been handed to the writer.
type Service struct {
	cfg    *config.Indicators
	engine *indicator.Engine

	consumer model.StreamConsumer
	writer   model.IndicatorWriter
	sink     model.IndicatorSink   // nil disables the streaming-SQL mirror
	stores   []model.SnapshotStore // tried in order on restore, all written on save

	m   *metrics.Metrics
	log *slog.Logger

	streams []string
	msgCh   chan model.StreamMessage

	mu        sync.Mutex
	streamIDs map[string]string // last entry folded in, per stream
}

// New assembles the indicator service. stores lists the snapshot
// backends in restore-preference order (typically Redis then SQLite).
func New(cfg *config.Indicators, consumer model.StreamConsumer, writer model.IndicatorWriter,
	sink model.IndicatorSink, stores []model.SnapshotStore, m *metrics.Metrics, log *slog.Logger) *Service {
	engine := indicator.NewEngine(cfg.MaxCandlesInState, cfg.SMAPeriods, cfg.EMAPeriods, cfg.RSIPeriods)
	engine.OnBufferDepth = func(pair string, depth int) {
		m.BufferDepth.WithLabelValues(pair).Set(float64(depth))
	}
	return &Service{
		cfg:       cfg,
		engine:    engine,
		consumer:  consumer,
		writer:    writer,
		sink:      sink,
		stores:    stores,
		m:         m,
		log:       log,
		msgCh:     make(chan model.StreamMessage, 1024),
		streamIDs: make(map[string]string),
	}
}

// Run starts all subsystems and blocks until ctx is cancelled. Shutdown
// takes a final snapshot so the next start replays only the gap.
func (s *Service) Run(ctx context.Context) error {
	if s.sink != nil {
		if err := s.sink.EnsureTable(ctx); err != nil {
			s.log.Warn("sink table setup failed, continuing without it", "err", err)
		}
	}

	snap := s.restore(ctx)

	streams, err := s.waitForStreams(ctx)
	if err != nil {
		return err
	}
	s.streams = streams
	s.log.Info("consuming candle streams", "streams", streams, "group", s.cfg.ConsumerGroup)

	if snap == nil {
		s.primeBuffers(ctx)
	} else {
		s.replayDelta(ctx, snap)
	}

	if err := s.consumer.EnsureGroups(ctx, s.streams, config.GroupStartID(s.cfg.ProcessingMode)); err != nil {
		return err
	}
	if err := s.consumer.RecoverPending(ctx, s.streams, s.msgCh); err != nil {
		s.log.Warn("pending recovery failed", "err", err)
	}
	s.consumer.StartPELReclaimer(ctx, s.streams, reclaimInterval, reclaimMinIdle, s.msgCh, func(n int) {
		s.m.PELMessagesReclaimed.Add(float64(n))
		s.log.Info("reclaimed stale pending entries", "count", n)
	})

	go func() {
		if err := s.consumer.Consume(ctx, s.streams, s.msgCh); err != nil && ctx.Err() == nil {
			s.log.Error("consumer stopped", "err", err)
		}
	}()
	go s.snapshotLoop(ctx)

	s.log.Info("indicator engine running",
		"pairs_restored", len(s.engine.Pairs()),
		"snapshot_interval_s", s.cfg.SnapshotIntervalSeconds,
		"sink", s.sink != nil)

	s.processLoop(ctx)

	s.saveSnapshot(context.Background())
	s.log.Info("final snapshot saved on shutdown")
	return nil
}

// restore loads the newest snapshot from the first store that has one
// and refills the engine buffers. Returns nil when no snapshot exists.
func (s *Service) restore(ctx context.Context) *indicator.EngineSnapshot {
	for _, store := range s.stores {
		data, err := store.ReadLatestSnapshotJSON(ctx)
		if err != nil {
			s.log.Warn("snapshot read failed", "err", err)
			continue
		}
		snap, err := indicator.UnmarshalSnapshot(data)
		if err != nil {
			s.log.Warn("snapshot decode failed, ignoring it", "err", err)
			continue
		}
		if snap == nil {
			continue
		}
		s.engine.Restore(snap)
		s.mu.Lock()
		for stream, id := range snap.StreamIDs {
			s.streamIDs[stream] = id
		}
		s.mu.Unlock()
		s.log.Info("engine restored from snapshot",
			"pairs", len(snap.Buffers), "saved_at_ms", snap.SavedAtMs)
		return snap
	}
	s.log.Info("no snapshot found, starting cold")
	return nil
}

// primeBuffers warms a cold engine from the tail of each candle stream.
// The tail covers at most the buffer bound, and nothing is re-published:
// these windows already went out when they were first processed.
func (s *Service) primeBuffers(ctx context.Context) {
	total := 0
	for _, stream := range s.streams {
		msgs, err := s.consumer.TailN(ctx, stream, int64(s.cfg.MaxCandlesInState))
		if err != nil {
			s.log.Warn("buffer priming failed", "stream", stream, "err", err)
			continue
		}
		for _, msg := range msgs {
			if c, ok := s.decodeCandle(msg); ok && c.CandleSeconds == s.cfg.CandleSeconds {
				s.engine.Process(c)
				total++
			}
			s.setStreamID(msg.Stream, msg.ID)
		}
	}
	if total > 0 {
		s.log.Info("buffers primed from stream tails", "candles", total)
	}
}

// replayDelta folds in and publishes the candles that arrived between
// the snapshot and now. Unlike priming, these were never turned into
// indicator records, so they are emitted.
func (s *Service) replayDelta(ctx context.Context, snap *indicator.EngineSnapshot) {
	replayCh := make(chan model.StreamMessage, 1024)
	go func() {
		defer close(replayCh)
		for _, stream := range s.streams {
			startID := snap.StreamIDs[stream]
			if startID == "" {
				startID = "0"
			}
			if _, err := s.consumer.ReplayFromID(ctx, stream, startID, replayCh); err != nil {
				s.log.Warn("delta replay failed", "stream", stream, "err", err)
			}
		}
	}()

	count := 0
	for msg := range replayCh {
		if c, ok := s.decodeCandle(msg); ok && c.CandleSeconds == s.cfg.CandleSeconds {
			s.publish(ctx, s.engine.Process(c))
			count++
		}
		s.setStreamID(msg.Stream, msg.ID)
	}
	if count > 0 {
		s.log.Info("replayed delta since snapshot", "candles", count)
	}
}

func (s *Service) decodeCandle(msg model.StreamMessage) (model.Candle, bool) {
	var c model.Candle
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		s.log.Warn("undecodable candle entry", "stream", msg.Stream, "id", msg.ID, "err", err)
		return model.Candle{}, false
	}
	return c, true
}

func (s *Service) setStreamID(stream, id string) {
	s.mu.Lock()
	s.streamIDs[stream] = id
	s.mu.Unlock()
}

// waitForStreams polls for per-pair candle streams until at least one
// exists.
func (s *Service) waitForStreams(ctx context.Context) ([]string, error) {
	for {
		streams, err := s.consumer.DiscoverStreams(ctx, s.cfg.InputTopic)
		if err != nil {
			s.log.Warn("stream discovery failed", "topic", s.cfg.InputTopic, "err", err)
		} else if len(streams) > 0 {
			return streams, nil
		}
		s.log.Info("no input streams yet, waiting", "topic", s.cfg.InputTopic)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(discoverInterval):
		}
	}
}
