// cmd/tradefeed — Trade ingestion service.
// Streams live trades from the Kraken v2 WebSocket (or pages historical
// trades over REST in historical mode) and publishes them to the
// per-pair trades streams.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoflow/internal/config"
	"cryptoflow/internal/logger"
	"cryptoflow/internal/metrics"
	redisstore "cryptoflow/internal/store/redis"
	"cryptoflow/internal/trades"
	"cryptoflow/pkg/kraken"
)

func main() {
	cfg := config.LoadTrades()
	log := logger.Init(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.NewMetrics("tradefeed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	wireWriterMetrics(writer, m)

	health := metrics.NewHealthStatus()
	health.SetPairs(cfg.ProductIDs)
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, writer.Client(), nil, nil, 10*time.Second)
	server := metrics.NewServer(cfg.MetricsAddr, health)
	server.Start()

	var source trades.Source
	if cfg.ProcessingMode == "historical" {
		client := kraken.NewClient(kraken.Config{RESTURL: cfg.RESTURL, Debug: cfg.Debug})
		source = trades.NewHistoricalSource(client, cfg.ProductIDs, cfg.LastNDays,
			time.Duration(cfg.RESTThrottleMS)*time.Millisecond, log)
		health.SetUpstreamConnected(true)
	} else {
		ws := kraken.NewWS(kraken.WSConfig{URL: cfg.WSURL, Pairs: cfg.ProductIDs, Debug: cfg.Debug})
		ws.OnOpen = func() { health.SetUpstreamConnected(true) }
		ws.OnReconnect = func() {
			health.SetUpstreamConnected(false)
			m.WSReconnects.Inc()
		}
		live := trades.NewLiveSource(ctx, ws)
		live.OnOverflow = m.RingBufOverflow.Inc
		source = live
	}
	defer source.Close()

	log.Info("trade feed starting",
		"mode", cfg.ProcessingMode,
		"pairs", cfg.ProductIDs,
		"topic", cfg.OutputTopic,
		"metrics", cfg.MetricsAddr)

	svc := trades.NewService(cfg, source, writer, m, log)
	runErr := svc.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Stop(shutCtx)

	if runErr != nil {
		log.Error("trade feed exited with error", "err", runErr)
		os.Exit(1)
	}
	log.Info("trade feed stopped")
}

// wireWriterMetrics connects the stream writer's callbacks to the
// Prometheus series.
func wireWriterMetrics(w *redisstore.Writer, m *metrics.Metrics) {
	w.OnWrite = func(d time.Duration) { m.RedisWriteDur.Observe(d.Seconds()) }
	w.OnBuffered = func() { m.RedisBufferedWrites.Inc() }
	w.OnCBChange = func(to redisstore.State) {
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}
}
