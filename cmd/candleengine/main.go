// cmd/candleengine — Candle aggregation service.
// Consumes the per-pair trades streams through a consumer group,
// aggregates tumbling-window OHLCV candles and publishes them to the
// candles streams, archiving finalized windows to SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cryptoflow/internal/candles"
	"cryptoflow/internal/config"
	"cryptoflow/internal/logger"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
	redisstore "cryptoflow/internal/store/redis"
	sqlitestore "cryptoflow/internal/store/sqlite"
)

func main() {
	cfg := config.LoadCandles()
	log := logger.Init(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.NewMetrics("candleengine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Group:    cfg.ConsumerGroup,
		Consumer: consumerName("candleengine"),
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

	// Optional local archive of emitted candles.
	var (
		archiveCh   chan model.Candle
		archive     *sqlitestore.Writer
		archiveDone chan struct{}
	)
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		archive, err = sqlitestore.NewWriter(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Warn("sqlite archive unavailable, continuing without it", "err", err)
		} else {
			archive.OnCommit = func(n int, d time.Duration) { m.SQLiteCommitDur.Observe(d.Seconds()) }
			archiveCh = make(chan model.Candle, 1024)
			archiveDone = make(chan struct{})
			go func() {
				defer close(archiveDone)
				// The archive drains until the channel closes so the
				// shutdown flush is not lost.
				archive.Run(context.Background(), archiveCh)
			}()
		}
	}

	health := metrics.NewHealthStatus()
	health.SetUpstreamConnected(true) // upstream is the log itself
	health.SetRedisConnected(true)
	if archive != nil {
		health.StartLivenessChecker(ctx, reader.Client(), archive.DB(), nil, 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, reader.Client(), nil, nil, 10*time.Second)
	}
	server := metrics.NewServer(cfg.MetricsAddr, health)
	server.Start()

	log.Info("candle engine starting",
		"input", cfg.InputTopic,
		"output", cfg.OutputTopic,
		"candle_seconds", cfg.CandleSeconds,
		"emit_incomplete", cfg.EmitIncompleteCandles,
		"archive", cfg.SQLitePath != "",
		"metrics", cfg.MetricsAddr)

	svc := candles.NewService(cfg, reader, writer, archiveCh, m, log)
	runErr := svc.Run(ctx)

	if archiveCh != nil {
		close(archiveCh)
		<-archiveDone
		archive.Close()
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Stop(shutCtx)

	if runErr != nil && ctx.Err() == nil {
		log.Error("candle engine exited with error", "err", runErr)
		os.Exit(1)
	}
	log.Info("candle engine stopped")
}

// consumerName returns a unique consumer-group member name.
func consumerName(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", service, host, os.Getpid())
}
