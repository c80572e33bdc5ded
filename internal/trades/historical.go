package trades

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cryptoflow/internal/model"
	"cryptoflow/pkg/kraken"
)

const tlsPause = 10 * time.Second

// pairCursor tracks one pair's backfill position.
type pairCursor struct {
	pair    string
	sinceNS int64
	done    bool
}

// HistoricalSource pages each pair's public-trades history forward from
// a lookback horizon until it reaches the present. Pairs are walked
// round-robin, one REST page per GetTrades call, throttled between
// calls to respect the API rate limit.
type HistoricalSource struct {
	client   *kraken.Client
	cursors  []*pairCursor
	next     int
	throttle time.Duration
	log      *slog.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// NewHistoricalSource creates a backfill source covering the last
// lastNDays for each pair.
func NewHistoricalSource(client *kraken.Client, pairs []string, lastNDays int,
	throttle time.Duration, log *slog.Logger) *HistoricalSource {
	start := time.Now().Add(-time.Duration(lastNDays) * 24 * time.Hour).UnixNano()
	cursors := make([]*pairCursor, len(pairs))
	for i, p := range pairs {
		cursors[i] = &pairCursor{pair: p, sinceNS: start}
	}
	return &HistoricalSource{
		client:   client,
		cursors:  cursors,
		throttle: throttle,
		log:      log,
		now:      time.Now,
	}
}

// GetTrades fetches the next page for the next unfinished pair. A pair
// finishes when its cursor is within one second of now. Transient API
// errors return an empty batch so the pair is retried on its next turn;
// TLS handshake failures additionally pause the whole source, since
// they indicate throttling at the edge rather than a bad request.
// Permanent API errors (unknown pair) come back as FatalError.
func (s *HistoricalSource) GetTrades(ctx context.Context) ([]model.Trade, error) {
	cur := s.nextCursor()
	if cur == nil {
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.throttle):
	}

	trades, last, err := s.client.GetTrades(ctx, cur.pair, cur.sinceNS)
	if err != nil {
		if kraken.IsTLSError(err) {
			s.log.Warn("tls handshake failure, pausing backfill", "pair", cur.pair, "pause", tlsPause)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(tlsPause):
			}
			return nil, nil
		}
		var apiErr *kraken.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Permanent() {
				return nil, &FatalError{Err: err}
			}
			s.log.Warn("exchange api error, will retry", "pair", cur.pair, "err", err)
			return nil, nil
		}
		return nil, err
	}

	if last > cur.sinceNS {
		cur.sinceNS = last
	}
	if cur.sinceNS > s.now().Add(-time.Second).UnixNano() {
		cur.done = true
		s.log.Info("pair backfill complete", "pair", cur.pair)
	}
	return trades, nil
}

// nextCursor returns the next unfinished pair, advancing round-robin.
func (s *HistoricalSource) nextCursor() *pairCursor {
	for range s.cursors {
		cur := s.cursors[s.next]
		s.next = (s.next + 1) % len(s.cursors)
		if !cur.done {
			return cur
		}
	}
	return nil
}

// IsDone reports whether every pair reached the present.
func (s *HistoricalSource) IsDone() bool {
	for _, cur := range s.cursors {
		if !cur.done {
			return false
		}
	}
	return true
}

// Close is a no-op; the REST client holds no connection state.
func (s *HistoricalSource) Close() error { return nil }
