package trades

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
)

const errorBackoff = time.Second

// Service drives a Source into the trades topic: fetch, validate,
// publish. The loop is source-agnostic; mode differences live in the
// Source implementations and the validation horizon.
type Service struct {
	cfg    *config.Trades
	source Source
	writer model.TradeWriter
	m      *metrics.Metrics
	log    *slog.Logger

	// maxAge is the validation recency bound. Live mode uses the
	// default; historical mode widens it to the backfill horizon.
	maxAge time.Duration
}

// NewService assembles the trade-ingestion service.
func NewService(cfg *config.Trades, source Source, writer model.TradeWriter,
	m *metrics.Metrics, log *slog.Logger) *Service {
	var maxAge time.Duration
	if cfg.ProcessingMode == "historical" {
		// One extra hour of slack so the oldest fetched page validates.
		maxAge = time.Duration(cfg.LastNDays)*24*time.Hour + time.Hour
	}
	return &Service{cfg: cfg, source: source, writer: writer, m: m, log: log, maxAge: maxAge}
}

// Run pumps the source until ctx is cancelled or the source is
// exhausted. A finished backfill returns nil so the process exits
// cleanly.
func (s *Service) Run(ctx context.Context) error {
	published, dropped := 0, 0
	for {
		select {
		case <-ctx.Done():
			s.log.Info("ingestion stopped", "published", published, "dropped", dropped)
			return nil
		default:
		}

		if s.source.IsDone() {
			s.log.Info("backfill complete", "published", published, "dropped", dropped)
			return nil
		}

		batch, err := s.source.GetTrades(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("ingestion stopped", "published", published, "dropped", dropped)
				return nil
			}
			var fatal *FatalError
			if errors.As(err, &fatal) {
				s.log.Error("source failed unrecoverably", "err", err)
				return err
			}
			s.log.Error("trade fetch failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}

		now := time.Now()
		for _, t := range batch {
			s.m.MessagesIngested.Inc()
			if err := t.Validate(now, s.maxAge); err != nil {
				s.log.Warn("invalid trade dropped", "pair", t.Pair, "err", err)
				s.m.MessagesDropped.WithLabelValues("invalid").Inc()
				dropped++
				continue
			}
			if err := s.writer.WriteTrade(ctx, t); err != nil {
				s.log.Error("trade publish failed", "pair", t.Pair, "err", err)
				s.m.MessagesDropped.WithLabelValues("publish").Inc()
				dropped++
				continue
			}
			s.m.MessagesEmitted.Inc()
			published++
		}
	}
}
