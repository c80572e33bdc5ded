// cmd/predengine — Prediction service.
// Consumes the technical_indicators streams, runs the configured model
// over each record and publishes predictions to the predictions
// streams.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/logger"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/predict"
	redisstore "cryptoflow/internal/store/redis"
)

func main() {
	cfg := config.LoadPredictions()
	log := logger.Init(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.NewMetrics("predengine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Group:    cfg.ConsumerGroup,
		Consumer: consumerName("predengine"),
	})
	if err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer reader.Close()

	writer, err := redisstore.NewWriter(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Topic:    cfg.OutputTopic,
	})
	if err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer writer.Close()
	writer.OnWrite = func(d time.Duration) { m.RedisWriteDur.Observe(d.Seconds()) }
	writer.OnBuffered = func() { m.RedisBufferedWrites.Inc() }
	writer.OnCBChange = func(to redisstore.State) {
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}

	health := metrics.NewHealthStatus()
	health.SetUpstreamConnected(true)
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, reader.Client(), nil, nil, 10*time.Second)
	server := metrics.NewServer(cfg.MetricsAddr, health)
	server.Start()

	engine, err := predict.NewEngine(cfg, reader, writer, m, log)
	if err != nil {
		log.Error("model resolution failed", "model", cfg.ModelName, "err", err)
		os.Exit(1)
	}

	log.Info("prediction engine starting",
		"input", cfg.InputTopic,
		"output", cfg.OutputTopic,
		"model", cfg.ModelName,
		"model_version", cfg.ModelVersion,
		"metrics", cfg.MetricsAddr)

	runErr := engine.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Stop(shutCtx)

	if runErr != nil && ctx.Err() == nil {
		log.Error("prediction engine exited with error", "err", runErr)
		os.Exit(1)
	}
	log.Info("prediction engine stopped")
}

// consumerName returns a unique consumer-group member name.
func consumerName(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", service, host, os.Getpid())
}
