package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"cryptoflow/internal/model"
)

// Reader provides read-only access to the candle archive.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns archived candles for a pair with windows starting
// after afterMs, ordered by window start ascending for replay.
func (r *Reader) ReadCandles(pair string, candleSeconds int, afterMs int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT pair, window_start_ms, window_end_ms, candle_seconds, open, high, low, close, volume
		FROM candles
		WHERE pair = ? AND candle_seconds = ? AND window_start_ms > ?
		ORDER BY window_start_ms ASC
	`, pair, candleSeconds, afterMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// ReadRecentCandles returns the newest n candles for a pair in ascending
// window order.
func (r *Reader) ReadRecentCandles(pair string, candleSeconds, n int) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT pair, window_start_ms, window_end_ms, candle_seconds, open, high, low, close, volume
		FROM (
			SELECT * FROM candles
			WHERE pair = ? AND candle_seconds = ?
			ORDER BY window_start_ms DESC
			LIMIT ?
		)
		ORDER BY window_start_ms ASC
	`, pair, candleSeconds, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query recent candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var open, high, low, closep, volume string
		if err := rows.Scan(&c.Pair, &c.WindowStartMs, &c.WindowEndMs, &c.CandleSeconds,
			&open, &high, &low, &closep, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.Open = model.Decimal(open)
		c.High = model.Decimal(high)
		c.Low = model.Decimal(low)
		c.Close = model.Decimal(closep)
		c.Volume = model.Decimal(volume)
		c.SchemaVersion = model.SchemaVersion
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
