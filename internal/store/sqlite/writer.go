// Package sqlite provides the local durability layer: a candle archive
// written by candleengine and a snapshot mirror written by indengine.
// Both are additive conveniences; the log in Redis remains the source
// of truth and every failure here is logged, never fatal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cryptoflow/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/candles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit is called after each batch commit (optional, metrics).
	OnCommit func(n int, d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// NewWriter opens the database in WAL mode and creates the schema.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer, serialized access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			pair            TEXT    NOT NULL,
			window_start_ms INTEGER NOT NULL,
			window_end_ms   INTEGER NOT NULL,
			candle_seconds  INTEGER NOT NULL,
			open            TEXT    NOT NULL,
			high            TEXT    NOT NULL,
			low             TEXT    NOT NULL,
			close           TEXT    NOT NULL,
			volume          TEXT    NOT NULL,
			PRIMARY KEY (pair, candle_seconds, window_start_ms)
		);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run drains candleCh into the archive in batched transactions:
// a batch commits every defaultBatchSize candles or defaultFlushDelay,
// whichever comes first. "Current" re-emissions of the same window
// overwrite via the primary key, so the archive holds each window's
// final word. Blocks until ctx is cancelled or candleCh closes.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles
			(pair, window_start_ms, window_end_ms, candle_seconds, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Pair, c.WindowStartMs, c.WindowEndMs, c.CandleSeconds,
			string(c.Open), string(c.High), string(c.Low), string(c.Close), string(c.Volume))
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveSnapshotJSON mirrors an engine snapshot, keeping the last 10.
func (w *Writer) SaveSnapshotJSON(_ context.Context, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("snapshot is not valid JSON")
	}
	if _, err := w.db.Exec(`INSERT INTO engine_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}
	if _, err := w.db.Exec(`DELETE FROM engine_snapshots WHERE id NOT IN
		(SELECT id FROM engine_snapshots ORDER BY created_at DESC, id DESC LIMIT 10)`); err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the most recent snapshot, or nil when
// none exists.
func (w *Writer) ReadLatestSnapshotJSON(_ context.Context) ([]byte, error) {
	var data string
	err := w.db.QueryRow(`
		SELECT data FROM engine_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
