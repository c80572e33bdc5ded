// Package redis implements the pipeline's partitioned log on Redis
// Streams: one stream per (topic, pair), producers appending with XADD
// and consumers reading through consumer groups with explicit ACKs.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptoflow/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute

	// Stream trimming caps (approximate MAXLEN). Trades are the
	// high-volume topic; derived topics carry at most one record per
	// window update.
	tradesMaxLen  = 100_000
	derivedMaxLen = 20_000

	// Circuit breaker defaults: trip after 5 consecutive failures,
	// probe again after 10s.
	cbMaxFailures  = 5
	cbResetTimeout = 10 * time.Second

	maxBufferedWrites = 10_000
)

// WriterConfig configures the stream writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Topic is the stream-name prefix this writer publishes under
	// (e.g. "trades" → stream "trades:BTC/USD").
	Topic string
}

// pendingWrite is one record held back while the circuit is open.
type pendingWrite struct {
	pair string
	data []byte
}

// Writer publishes records to per-pair topic streams. Writes go through
// a circuit breaker; while the breaker is open they are buffered locally
// (bounded, oldest dropped) and flushed when Redis comes back.
type Writer struct {
	client *goredis.Client
	topic  string
	maxLen int64
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []pendingWrite

	// Callbacks for metrics (optional).
	OnWrite    func(d time.Duration)
	OnBuffered func()
	OnCBChange func(to State)
}

// NewWriter creates a stream writer for the given topic and pings the
// server.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := int64(derivedMaxLen)
	if cfg.Topic == "trades" {
		maxLen = tradesMaxLen
	}

	w := &Writer{
		client: client,
		topic:  cfg.Topic,
		maxLen: maxLen,
		cb:     NewCircuitBreaker(cbMaxFailures, cbResetTimeout),
		buffer: make([]pendingWrite, 0, 256),
	}
	w.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if w.OnCBChange != nil {
			w.OnCBChange(to)
		}
		if to == StateClosed {
			go w.flush()
		}
	}

	log.Printf("[redis] writer connected to %s (topic=%s)", cfg.Addr, cfg.Topic)
	return w, nil
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Topic returns the stream-name prefix this writer publishes under.
func (w *Writer) Topic() string { return w.topic }

// WriteTrade publishes a trade to <topic>:<pair>.
func (w *Writer) WriteTrade(ctx context.Context, t model.Trade) error {
	return w.write(ctx, t.Pair, t.JSON())
}

// WriteCandle publishes a candle to <topic>:<pair>.
func (w *Writer) WriteCandle(ctx context.Context, c model.Candle) error {
	return w.write(ctx, c.Pair, c.JSON())
}

// WriteIndicatorRecord publishes an indicator record to <topic>:<pair>.
func (w *Writer) WriteIndicatorRecord(ctx context.Context, rec model.IndicatorRecord) error {
	return w.write(ctx, rec.Pair, rec.JSON())
}

// WritePrediction publishes a prediction to <topic>:<pair>.
func (w *Writer) WritePrediction(ctx context.Context, p model.Prediction) error {
	return w.write(ctx, p.Pair, p.JSON())
}

// write appends one record to its pair stream and mirrors it to the
// latest:<topic>:<pair> key. Circuit-open writes are buffered, not lost;
// the error reported to the caller is nil in that case because delivery
// is still pending, not failed.
func (w *Writer) write(ctx context.Context, pair string, data []byte) error {
	err := w.cb.Execute(func() error {
		start := time.Now()
		stream := w.topic + ":" + pair
		jsonData := string(data)

		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, "latest:"+stream, jsonData, defaultLatestTTL)
		_, perr := pipe.Exec(ctx)
		if perr != nil {
			return fmt.Errorf("xadd %s: %w", stream, perr)
		}
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start))
		}
		return nil
	})
	if err == ErrCircuitOpen {
		w.bufferWrite(pair, data)
		return nil
	}
	return err
}

// CircuitState returns the writer's current breaker state.
func (w *Writer) CircuitState() State { return w.cb.CurrentState() }

// PendingCount returns the number of locally buffered writes.
func (w *Writer) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

func (w *Writer) bufferWrite(pair string, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) >= maxBufferedWrites {
		w.buffer = w.buffer[1:]
	}
	w.buffer = append(w.buffer, pendingWrite{pair: pair, data: data})
	if w.OnBuffered != nil {
		w.OnBuffered()
	}
}

// flush replays buffered writes after the breaker closes. Order within
// a pair is preserved (the buffer is append-only FIFO).
func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	toFlush := w.buffer
	w.buffer = make([]pendingWrite, 0, 256)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, pw := range toFlush {
		if err := w.write(ctx, pw.pair, pw.data); err != nil {
			log.Printf("[redis] flush write error: %v", err)
		}
	}
	log.Printf("[redis] flushed %d buffered writes", len(toFlush))
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
