// Package trades ingests exchange trades and publishes them to the
// trades topic. Two sources exist: a live WebSocket feed and a
// historical REST backfill; the service drives either through the same
// loop.
package trades

import (
	"context"
	"fmt"

	"cryptoflow/internal/model"
)

// Source yields batches of trades. Live sources never finish;
// historical sources report IsDone once every pair's backfill reached
// the present.
type Source interface {
	// GetTrades returns the next batch. An empty batch is normal (no
	// data right now). Errors are transient and the caller retries,
	// unless wrapped in FatalError.
	GetTrades(ctx context.Context) ([]model.Trade, error)

	// IsDone reports whether the source is exhausted.
	IsDone() bool

	Close() error
}

// FatalError marks a source failure that retrying cannot heal, such as
// a rejected subscription for a misconfigured pair. The service stops
// and returns it so the process exits non-zero.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal source error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }
