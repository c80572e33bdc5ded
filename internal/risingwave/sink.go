// Package risingwave mirrors indicator records into a RisingWave
// streaming-SQL store over its Postgres wire protocol. The sink is
// best-effort by contract: the log remains the source of truth and
// every failure here is logged by the caller, never fatal.
package risingwave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"cryptoflow/internal/model"
)

const (
	// SinkModeTable creates a plain table and row-inserts every record.
	SinkModeTable = "table"
	// SinkModeKafka creates a Kafka-connector table; RisingWave ingests
	// the topic itself and WriteRecord becomes a no-op.
	SinkModeKafka = "kafka"
)

// Config configures the sink connection and table shape.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	TableName string
	SinkMode  string // table | kafka

	KafkaTopic  string
	KafkaBroker string

	SMAPeriods []int
	EMAPeriods []int
	RSIPeriods []int
}

// Sink writes indicator records into RisingWave.
type Sink struct {
	pool *pgxpool.Pool
	cfg  Config

	columns   []string // full column list in DDL order
	insertSQL string
}

// New connects to RisingWave. The caller treats a returned error as
// "run without the sink".
func New(ctx context.Context, cfg Config) (*Sink, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("risingwave connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("risingwave ping: %w", err)
	}

	s := &Sink{pool: pool, cfg: cfg}
	s.columns = append(fixedColumns(), IndicatorColumns(cfg.SMAPeriods, cfg.EMAPeriods, cfg.RSIPeriods)...)
	s.insertSQL = buildInsertSQL(cfg.TableName, s.columns)
	return s, nil
}

// Pool returns the underlying pool for health checks.
func (s *Sink) Pool() *pgxpool.Pool { return s.pool }

func fixedColumns() []string {
	return []string{
		"pair", "open", "high", "low", "close", "volume",
		"window_start_ms", "window_end_ms", "candle_seconds",
	}
}

// IndicatorColumns returns the dynamic column names for the configured
// period sets, deduplicated and in stable order, plus the fixed MACD
// trio and OBV.
func IndicatorColumns(smaPeriods, emaPeriods, rsiPeriods []int) []string {
	cols := lo.Flatten([][]string{
		lo.Map(lo.Uniq(smaPeriods), func(p int, _ int) string { return fmt.Sprintf("sma_%d", p) }),
		lo.Map(lo.Uniq(emaPeriods), func(p int, _ int) string { return fmt.Sprintf("ema_%d", p) }),
		lo.Map(lo.Uniq(rsiPeriods), func(p int, _ int) string { return fmt.Sprintf("rsi_%d", p) }),
		{"macd_7", "macdsignal_7", "macdhist_7", "obv"},
	})
	return lo.Uniq(cols)
}

// BuildDDL assembles the schema-on-write CREATE TABLE statement for the
// configured mode. Kafka mode binds the table to the topic with JSON
// decoding; table mode creates a plain table for row inserts.
func BuildDDL(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", cfg.TableName)
	b.WriteString("  pair VARCHAR,\n")
	for _, c := range []string{"open", "high", "low", "close", "volume"} {
		fmt.Fprintf(&b, "  %s FLOAT,\n", c)
	}
	b.WriteString("  window_start_ms BIGINT,\n")
	b.WriteString("  window_end_ms BIGINT,\n")
	b.WriteString("  candle_seconds INT,\n")
	for _, c := range IndicatorColumns(cfg.SMAPeriods, cfg.EMAPeriods, cfg.RSIPeriods) {
		fmt.Fprintf(&b, "  %s FLOAT,\n", c)
	}
	b.WriteString("  PRIMARY KEY (pair, window_start_ms, window_end_ms)\n")
	b.WriteString(")")

	if cfg.SinkMode == SinkModeKafka {
		fmt.Fprintf(&b, " WITH (\n  connector = 'kafka',\n  topic = '%s',\n  properties.bootstrap.server = '%s'\n) FORMAT PLAIN ENCODE JSON",
			cfg.KafkaTopic, cfg.KafkaBroker)
	}
	return b.String()
}

func buildInsertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// EnsureTable creates the sink table if it does not exist. Idempotent:
// an existing table (checked via information_schema) is left untouched.
func (s *Sink) EnsureTable(ctx context.Context) error {
	var one int
	err := s.pool.QueryRow(ctx,
		"SELECT 1 FROM information_schema.tables WHERE table_name = $1",
		s.cfg.TableName).Scan(&one)
	if err == nil {
		return nil
	}

	if _, err := s.pool.Exec(ctx, BuildDDL(s.cfg)); err != nil {
		return fmt.Errorf("risingwave create table %s: %w", s.cfg.TableName, err)
	}
	return nil
}

// WriteRecord inserts one record. In kafka mode this is a no-op since
// RisingWave consumes the topic directly. Absent indicators insert as
// NULL.
func (s *Sink) WriteRecord(ctx context.Context, rec model.IndicatorRecord) error {
	if s.cfg.SinkMode == SinkModeKafka {
		return nil
	}

	args := make([]interface{}, 0, len(s.columns))
	args = append(args, rec.Pair, rec.Open, rec.High, rec.Low, rec.Close, rec.Volume,
		rec.WindowStartMs, rec.WindowEndMs, rec.CandleSeconds)
	for _, col := range s.columns[len(fixedColumns()):] {
		if v, ok := rec.Indicator(col); ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(writeCtx, s.insertSQL, args...); err != nil {
		return fmt.Errorf("risingwave insert: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close() {
	s.pool.Close()
}
