package indengine

import (
	"context"
	"time"

	"cryptoflow/internal/model"
)

// processLoop drains the consumer channel until ctx is cancelled.
func (s *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgCh:
			s.handleCandle(ctx, msg)
		}
	}
}

func (s *Service) handleCandle(ctx context.Context, msg model.StreamMessage) {
	start := time.Now()
	s.m.MessagesIngested.Inc()

	c, ok := s.decodeCandle(msg)
	if !ok {
		s.m.MessagesDropped.WithLabelValues("decode").Inc()
		s.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}
	if c.CandleSeconds != s.cfg.CandleSeconds {
		s.m.MessagesDropped.WithLabelValues("filtered").Inc()
		s.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}

	rec := s.engine.Process(c)
	if !s.publish(ctx, rec) {
		// Publish failed: leave the entry pending so it is re-delivered.
		return
	}

	s.consumer.Ack(ctx, msg.Stream, msg.ID)
	s.setStreamID(msg.Stream, msg.ID)
	s.m.ProcessingDur.Observe(time.Since(start).Seconds())
}

// publish writes a record to the indicators topic and mirrors it into
// the streaming-SQL sink. The sink is best-effort: its failures are
// counted and logged, never propagated.
func (s *Service) publish(ctx context.Context, rec model.IndicatorRecord) bool {
	if err := s.writer.WriteIndicatorRecord(ctx, rec); err != nil {
		s.log.Error("indicator publish failed", "pair", rec.Pair, "err", err)
		s.m.MessagesDropped.WithLabelValues("publish").Inc()
		return false
	}
	s.m.MessagesEmitted.Inc()

	if s.sink != nil {
		start := time.Now()
		if err := s.sink.WriteRecord(ctx, rec); err != nil {
			s.log.Warn("sink write failed", "pair", rec.Pair, "err", err)
			s.m.SinkFailures.Inc()
		} else {
			s.m.SinkWriteDur.Observe(time.Since(start).Seconds())
		}
	}
	return true
}
