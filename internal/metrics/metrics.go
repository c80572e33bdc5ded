package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics shared by the pipeline
// services. Each binary registers its own set under its service
// namespace; unused series simply stay at zero.
type Metrics struct {
	MessagesIngested prometheus.Counter
	MessagesEmitted  prometheus.Counter
	MessagesDropped  *prometheus.CounterVec // labels: reason
	ProcessingDur    prometheus.Histogram

	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	SinkWriteDur    prometheus.Histogram
	SinkFailures    prometheus.Counter

	WSReconnects    prometheus.Counter
	RingBufOverflow prometheus.Counter

	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Candle windowing
	OpenWindows prometheus.Gauge
	LateTrades  prometheus.Counter
	EmitLag     prometheus.Gauge

	// Indicator engine
	BufferDepth   *prometheus.GaugeVec // labels: pair
	SnapshotSaves prometheus.Counter

	// Consumer group plumbing
	PELMessagesReclaimed prometheus.Counter

	// Circuit breaker (0=closed, 1=open, 2=half-open)
	RedisCircuitBreakerState prometheus.Gauge
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics registers and returns the metric set under the given
// service namespace (e.g. "tradefeed", "candleengine").
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Total input messages consumed",
		}),
		MessagesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_emitted_total",
			Help:      "Total output messages published",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped (by reason: validation, late, malformed, channel_full)",
		}, []string{"reason"}),
		ProcessingDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Per-message processing latency",
			Buckets:   []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redis_write_duration_seconds",
			Help:      "Redis stream write latency",
			Buckets:   prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sqlite_commit_duration_seconds",
			Help:      "SQLite batch commit latency",
			Buckets:   prometheus.DefBuckets,
		}),
		SinkWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_duration_seconds",
			Help:      "RisingWave sink write latency",
			Buckets:   prometheus.DefBuckets,
		}),
		SinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "RisingWave sink write failures (non-fatal)",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnects_total",
			Help:      "Total WebSocket reconnection attempts",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ringbuf_overflow_total",
			Help:      "Ring buffer push overflows (dropped messages)",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_drops_total",
			Help:      "Messages dropped on internal hand-off channels per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_saturation_pct",
			Help:      "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		OpenWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_windows",
			Help:      "Candle windows currently open across pairs",
		}),
		LateTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_trades_total",
			Help:      "Trades dropped because their window already closed",
		}),
		EmitLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emit_lag_seconds",
			Help:      "Lag between window end and emission time",
		}),

		BufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candle_buffer_depth",
			Help:      "Candles held in the per-pair indicator buffer",
		}, []string{"pair"}),
		SnapshotSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Engine state snapshots persisted",
		}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pel_messages_reclaimed_total",
			Help:      "Messages reclaimed from dead consumers via XCLAIM",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_trips_total",
			Help:      "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_buffered_writes_total",
			Help:      "Writes buffered locally while the circuit breaker was open",
		}),
	}

	prometheus.MustRegister(
		m.MessagesIngested,
		m.MessagesEmitted,
		m.MessagesDropped,
		m.ProcessingDur,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.SinkWriteDur,
		m.SinkFailures,
		m.WSReconnects,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.OpenWindows,
		m.LateTrades,
		m.EmitLag,
		m.BufferDepth,
		m.SnapshotSaves,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	UpstreamConnected bool      `json:"upstream_connected"`
	LastEventTime     time.Time `json:"last_event_time"`
	RedisConnected    bool      `json:"redis_connected"`
	StoreOK           bool      `json:"store_ok"`
	SinkOK            bool      `json:"sink_ok"`
	Pairs             []string  `json:"pairs"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	StoreLatencyMs float64   `json:"store_latency_ms"`
	SinkLatencyMs  float64   `json:"sink_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`

	// Dependencies a service never wires are excluded from the
	// overall verdict.
	hasStore bool
	hasSink  bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		StoreOK:   true,
		SinkOK:    true,
	}
}

func (h *HealthStatus) SetUpstreamConnected(v bool) {
	h.mu.Lock()
	h.UpstreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPairs(pairs []string) {
	h.mu.Lock()
	h.Pairs = pairs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.hasStore = true
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSink pings the RisingWave pool and records latency + health.
func (h *HealthStatus) CheckSink(ctx context.Context, pool *pgxpool.Pool) {
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.hasSink = true
	h.SinkOK = err == nil
	h.SinkLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil
// dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, pool *pgxpool.Pool, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				if pool != nil {
					h.CheckSink(probeCtx, pool)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	storeOK := !h.hasStore || h.StoreOK
	sinkOK := !h.hasSink || h.SinkOK

	if !h.UpstreamConnected || !h.RedisConnected || !storeOK || !sinkOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !sinkOK {
		overallStatus = "unhealthy"
	}

	// Event age
	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string   `json:"status"`
		Uptime            string   `json:"uptime"`
		UpstreamConnected bool     `json:"upstream_connected"`
		LastEventTime     string   `json:"last_event_time"`
		EventAge          string   `json:"event_age"`
		RedisConnected    bool     `json:"redis_connected"`
		RedisLatencyMs    float64  `json:"redis_latency_ms"`
		StoreOK           bool     `json:"store_ok"`
		StoreLatencyMs    float64  `json:"store_latency_ms"`
		SinkOK            bool     `json:"sink_ok"`
		SinkLatencyMs     float64  `json:"sink_latency_ms"`
		Pairs             []string `json:"pairs"`
		LastCheckAt       string   `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		UpstreamConnected: h.UpstreamConnected,
		LastEventTime:     h.LastEventTime.Format(time.RFC3339),
		EventAge:          eventAge,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		StoreOK:           h.StoreOK,
		StoreLatencyMs:    h.StoreLatencyMs,
		SinkOK:            h.SinkOK,
		SinkLatencyMs:     h.SinkLatencyMs,
		Pairs:             h.Pairs,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
