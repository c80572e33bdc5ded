package predict

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
	reclaimInterval  = 30 * time.Second
	reclaimMinIdle   = 60 * time.Second
)

// Engine wires a Model between the indicators topic and the
// predictions topic.
type Engine struct {
	cfg      *config.Predictions
	model    Model
	consumer model.StreamConsumer
	writer   model.PredictionWriter
	m        *metrics.Metrics
	log      *slog.Logger
}

// NewEngine resolves the configured model and assembles the service.
// An unknown model name errors; the caller treats that as fatal.
func NewEngine(cfg *config.Predictions, consumer model.StreamConsumer,
	writer model.PredictionWriter, m *metrics.Metrics, log *slog.Logger) (*Engine, error) {
	mdl, err := Lookup(cfg.ModelName)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, model: mdl, consumer: consumer, writer: writer, m: m, log: log}, nil
}

// Run blocks consuming indicator records until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	streams, err := e.waitForStreams(ctx)
	if err != nil {
		return err
	}
	e.log.Info("consuming indicator streams", "streams", streams, "group", e.cfg.ConsumerGroup,
		"model", e.model.Name(), "model_version", e.cfg.ModelVersion)

	if err := e.consumer.EnsureGroups(ctx, streams, config.GroupStartID(e.cfg.ProcessingMode)); err != nil {
		return err
	}

	msgCh := make(chan model.StreamMessage, 1024)
	if err := e.consumer.RecoverPending(ctx, streams, msgCh); err != nil {
		e.log.Warn("pending recovery failed", "err", err)
	}
	e.consumer.StartPELReclaimer(ctx, streams, reclaimInterval, reclaimMinIdle, msgCh, func(n int) {
		e.m.PELMessagesReclaimed.Add(float64(n))
	})

	go func() {
		if err := e.consumer.Consume(ctx, streams, msgCh); err != nil && ctx.Err() == nil {
			e.log.Error("consumer stopped", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgCh:
			e.handleRecord(ctx, msg)
		}
	}
}

func (e *Engine) handleRecord(ctx context.Context, msg model.StreamMessage) {
	start := time.Now()
	e.m.MessagesIngested.Inc()

	var rec model.IndicatorRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		e.log.Warn("undecodable indicator entry", "stream", msg.Stream, "id", msg.ID, "err", err)
		e.m.MessagesDropped.WithLabelValues("decode").Inc()
		e.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}
	if rec.CandleSeconds != e.cfg.CandleSeconds {
		e.m.MessagesDropped.WithLabelValues("filtered").Inc()
		e.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}

	// Required-field check is warning-only: the model has defaults for
	// everything it reads.
	if rec.Pair == "" || rec.Close == 0 || rec.WindowStartMs == 0 || rec.WindowEndMs == 0 {
		e.log.Warn("indicator record missing fields, predicting with defaults",
			"pair", rec.Pair, "window_start_ms", rec.WindowStartMs)
	}

	out, err := e.model.Predict(rec)
	if err != nil {
		e.log.Error("model invocation failed, nothing emitted",
			"model", e.model.Name(), "pair", rec.Pair, "err", err)
		e.m.MessagesDropped.WithLabelValues("model").Inc()
		e.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}

	p := e.buildPrediction(rec, out)
	if err := p.Validate(time.Now()); err != nil {
		e.log.Warn("invalid prediction dropped", "pair", p.Pair, "err", err)
		e.m.MessagesDropped.WithLabelValues("invalid").Inc()
		e.consumer.Ack(ctx, msg.Stream, msg.ID)
		return
	}

	if err := e.writer.WritePrediction(ctx, p); err != nil {
		e.log.Error("prediction publish failed", "pair", p.Pair, "err", err)
		e.m.MessagesDropped.WithLabelValues("publish").Inc()
		// Not acked: the entry stays pending for re-delivery.
		return
	}
	e.m.MessagesEmitted.Inc()
	e.consumer.Ack(ctx, msg.Stream, msg.ID)
	e.m.ProcessingDur.Observe(time.Since(start).Seconds())
}

// buildPrediction fills the wire record around a model output. The
// source record rides along in input_indicators for auditability.
func (e *Engine) buildPrediction(rec model.IndicatorRecord, out Output) model.Prediction {
	horizonMin := e.cfg.PredictionHorizonSeconds / 60
	if horizonMin < 1 {
		horizonMin = 1
	}
	return model.Prediction{
		Pair:                     rec.Pair,
		PredictionTimestampMs:    time.Now().UnixMilli(),
		PredictionValue:          out.PredictionValue,
		ConfidenceScore:          out.ConfidenceScore,
		ModelName:                e.model.Name(),
		ModelVersion:             e.cfg.ModelVersion,
		PredictionHorizonMinutes: horizonMin,
		FeaturesUsed:             out.FeaturesUsed,
		InputIndicators:          rec,
		SignalStrength:           out.SignalStrength,
		PredictionType:           out.PredictionType,
		SchemaVersion:            model.SchemaVersion,
	}
}

func (e *Engine) waitForStreams(ctx context.Context) ([]string, error) {
	for {
		streams, err := e.consumer.DiscoverStreams(ctx, e.cfg.InputTopic)
		if err != nil {
			e.log.Warn("stream discovery failed", "topic", e.cfg.InputTopic, "err", err)
		} else if len(streams) > 0 {
			return streams, nil
		}
		e.log.Info("no input streams yet, waiting", "topic", e.cfg.InputTopic)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(discoverInterval):
		}
	}
}
