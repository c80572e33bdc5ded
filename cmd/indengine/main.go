// cmd/indengine — Technical indicator service.
// Consumes the candles streams, maintains a bounded per-pair buffer,
// recomputes SMA/EMA/RSI/MACD/OBV on every candle and publishes
// indicator records to the technical_indicators streams and the
// RisingWave sink.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cryptoflow/internal/config"
	"cryptoflow/internal/indengine"
	"cryptoflow/internal/logger"
	"cryptoflow/internal/metrics"
	"cryptoflow/internal/model"
	"cryptoflow/internal/risingwave"
	redisstore "cryptoflow/internal/store/redis"
	sqlitestore "cryptoflow/internal/store/sqlite"
)

func main() {
	cfg := config.LoadIndicators()
	log := logger.Init(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.NewMetrics("indengine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Group:       cfg.ConsumerGroup,
		Consumer:    consumerName("indengine"),
		SnapshotKey: "snapshot:" + cfg.OutputTopic,
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

	// Snapshot stores: Redis first (fast restore), SQLite mirror second.
	stores := []model.SnapshotStore{reader}
	var sqliteDB *sql.DB
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		mirror, err := sqlitestore.NewWriter(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Warn("sqlite snapshot mirror unavailable", "err", err)
		} else {
			defer mirror.Close()
			stores = append(stores, mirror)
			sqliteDB = mirror.DB()
		}
	}

	// RisingWave sink is best-effort: a failed connect runs without it.
	var sink model.IndicatorSink
	var sinkPool *pgxpool.Pool
	rw, err := risingwave.New(ctx, risingwave.Config{
		Host:        cfg.RisingWaveHost,
		Port:        cfg.RisingWavePort,
		User:        cfg.RisingWaveUser,
		Password:    cfg.RisingWavePassword,
		Database:    cfg.RisingWaveDatabase,
		TableName:   cfg.TableName,
		SinkMode:    cfg.SinkMode,
		KafkaTopic:  cfg.KafkaTopic,
		KafkaBroker: cfg.KafkaBrokerAddress,
		SMAPeriods:  cfg.SMAPeriods,
		EMAPeriods:  cfg.EMAPeriods,
		RSIPeriods:  cfg.RSIPeriods,
	})
	if err != nil {
		log.Warn("risingwave unavailable, running without the sink", "err", err)
	} else {
		defer rw.Close()
		sink = rw
		sinkPool = rw.Pool()
	}

	health := metrics.NewHealthStatus()
	health.SetUpstreamConnected(true)
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, reader.Client(), sqliteDB, sinkPool, 10*time.Second)
	server := metrics.NewServer(cfg.MetricsAddr, health)
	server.Start()

	log.Info("indicator engine starting",
		"input", cfg.InputTopic,
		"output", cfg.OutputTopic,
		"max_candles", cfg.MaxCandlesInState,
		"sma", cfg.SMAPeriods, "ema", cfg.EMAPeriods, "rsi", cfg.RSIPeriods,
		"sink_mode", cfg.SinkMode,
		"metrics", cfg.MetricsAddr)

	svc := indengine.New(cfg, reader, writer, sink, stores, m, log)
	runErr := svc.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Stop(shutCtx)

	if runErr != nil && ctx.Err() == nil {
		log.Error("indicator engine exited with error", "err", runErr)
		os.Exit(1)
	}
	log.Info("indicator engine stopped")
}

// consumerName returns a unique consumer-group member name.
func consumerName(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", service, host, os.Getpid())
}
