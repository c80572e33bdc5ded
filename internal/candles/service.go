package candles

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
)

const (
	discoverInterval = 5 * time.Second
	flushInterval    = 1 * time.Second
	reclaimInterval  = 30 * time.Second
	reclaimMinIdle   = 60 * time.Second
)

// Service wires the builder between the trades topic and the candles
// topic: consume → aggregate → publish → ack. Trade entries are acked
// only after the candles they produced have been handed to the writer,
// so a crash re-delivers rather than loses them.
type Service struct {
	cfg      *config.Candles
	consumer model.StreamConsumer
	writer   model.CandleWriter
	builder  *Builder
	m        *metrics.Metrics
	log      *slog.Logger

	// maxAge bounds trade recency; negative disables the check so
	// historical backfills keep their old trades.
	maxAge time.Duration

	// archiveCh receives every emitted candle for local persistence.
	// Nil disables archiving.
	archiveCh chan<- model.Candle
}

// NewService assembles the candle-aggregation service.
func NewService(cfg *config.Candles, consumer model.StreamConsumer, writer model.CandleWriter,
	archiveCh chan<- model.Candle, m *metrics.Metrics, log *slog.Logger) *Service {
	b := NewBuilder(cfg.CandleSeconds, cfg.EmitIncompleteCandles)
	b.OnLateTrade = func(pair string) {
		m.LateTrades.Inc()
		log.Debug("late trade dropped", "pair", pair)
	}
	// Historical replays carry trades far older than the live recency
	// bound; age is no signal of corruption there.
	maxAge := time.Duration(0)
	if cfg.ProcessingMode == "historical" {
		maxAge = -1
	}
	return &Service{
		cfg:       cfg,
		consumer:  consumer,
		writer:    writer,
		builder:   b,
		m:         m,
		log:       log,
		maxAge:    maxAge,
		archiveCh: archiveCh,
	}
}

// Run blocks until ctx is cancelled. On shutdown all open windows are
// finalized and emitted.
func (s *Service) Run(ctx context.Context) error {
	streams, err := s.waitForStreams(ctx)
	if err != nil {
		return err
	}
	s.log.Info("consuming trade streams", "streams", streams, "group", s.cfg.ConsumerGroup)

	if err := s.consumer.EnsureGroups(ctx, streams, config.GroupStartID(s.cfg.ProcessingMode)); err != nil {
		return err
	}

	msgCh := make(chan model.StreamMessage, 1024)
	if err := s.consumer.RecoverPending(ctx, streams, msgCh); err != nil {
		s.log.Warn("pending recovery failed", "err", err)
	}
	s.consumer.StartPELReclaimer(ctx, streams, reclaimInterval, reclaimMinIdle, msgCh, func(n int) {
		s.m.PELMessagesReclaimed.Add(float64(n))
	})

	go func() {
		if err := s.consumer.Consume(ctx, streams, msgCh); err != nil && ctx.Err() == nil {
			s.log.Error("consumer stopped", "err", err)
		}
	}()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.emit(context.Background(), s.builder.FlushAll())
			s.log.Info("flushed open windows on shutdown")
			return nil

		case msg := <-msgCh:
			s.handleTrade(ctx, msg)

		case <-ticker.C:
			s.emit(ctx, s.builder.FlushOlderThan(time.Now().UnixMilli()))
			s.m.OpenWindows.Set(float64(s.builder.OpenWindows()))
			s.m.ChannelSaturationPct.WithLabelValues("trades_in").Set(float64(len(msgCh)) / float64(cap(msgCh)) * 100)
			if s.archiveCh != nil {
				s.m.ChannelSaturationPct.WithLabelValues("archive").Set(float64(len(s.archiveCh)) / float64(cap(s.archiveCh)) * 100)
			}
		}
	}
}

func (s *Service) handleTrade(ctx context.Context, msg model.StreamMessage) {
	start := time.Now()
	s.m.MessagesIngested.Inc()

	var trade model.Trade
	if err := json.Unmarshal(msg.Data, &trade); err != nil {
		s.log.Warn("undecodable trade entry", "stream", msg.Stream, "id", msg.ID, "err", err)
		s.m.MessagesDropped.WithLabelValues("decode").Inc()
		s.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}
	if err := trade.Validate(time.Now(), s.maxAge); err != nil {
		s.log.Warn("invalid trade dropped", "pair", trade.Pair, "err", err)
		s.m.MessagesDropped.WithLabelValues("invalid").Inc()
		s.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}

	if !s.emit(ctx, s.builder.Process(trade)) {
		// Publish failed: leave the entry pending so the PEL redelivers
		// it instead of losing the aggregated trades.
		return
	}
	s.consumer.Ack(ctx, msg.Stream, msg.ID)
	s.m.ProcessingDur.Observe(time.Since(start).Seconds())
}

// emit publishes candles to the output topic and the archive, reporting
// whether every candle reached the writer. Candles that fail their own
// validation are logged and still emitted: the stream's completeness
// beats local tidiness, and downstream consumers soft-validate again.
func (s *Service) emit(ctx context.Context, out []model.Candle) bool {
	ok := true
	for _, c := range out {
		if err := c.Validate(); err != nil {
			s.log.Warn("candle failed validation, emitting anyway",
				"pair", c.Pair, "window_start_ms", c.WindowStartMs, "err", err)
		}
		if err := s.writer.WriteCandle(ctx, c); err != nil {
			s.log.Error("candle publish failed", "pair", c.Pair, "err", err)
			s.m.MessagesDropped.WithLabelValues("publish").Inc()
			ok = false
			continue
		}
		s.m.MessagesEmitted.Inc()
		s.m.EmitLag.Set(float64(time.Now().UnixMilli()-c.WindowEndMs) / 1000)

		if s.archiveCh != nil {
			select {
			case s.archiveCh <- c:
			default:
				s.m.FanoutDropsTotal.WithLabelValues("archive").Inc()
				s.log.Warn("archive channel full, candle not archived",
					"pair", c.Pair, "window_start_ms", c.WindowStartMs)
			}
		}
	}
	return ok
}

// waitForStreams polls for per-pair trade streams until at least one
// exists. The trades service creates them on its first write.
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
