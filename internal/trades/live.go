package trades

import (
	"context"
	"time"

	"cryptoflow/internal/model"
	"cryptoflow/internal/ringbuf"
	"cryptoflow/pkg/kraken"
)

const (
	liveRingSize  = 8192
	liveBatchMax  = 256
	livePollDelay = 10 * time.Millisecond
)

// LiveSource adapts the WebSocket feed to the Source interface through
// a lock-free ring: the WS read goroutine produces, the service loop
// consumes. A full ring drops the oldest-pending trades and counts the
// overflow instead of back-pressuring the socket.
type LiveSource struct {
	ws   *kraken.WSClient
	ring *ringbuf.Ring[model.Trade]

	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	// OnOverflow is called when a trade could not be queued (optional,
	// metrics).
	OnOverflow func()
}

// NewLiveSource wires the WS client's trade callback into the ring and
// starts the connection loop. A nil error means the subscription is
// being established; a fatal subscribe error surfaces on GetTrades.
func NewLiveSource(ctx context.Context, ws *kraken.WSClient) *LiveSource {
	s := &LiveSource{
		ws:   ws,
		ring: ringbuf.New[model.Trade](liveRingSize),
		done: make(chan struct{}),
	}
	ws.OnTrade = func(t model.Trade) {
		if !s.ring.Push(t) {
			if s.OnOverflow != nil {
				s.OnOverflow()
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.runErr = s.ws.Run(runCtx)
	}()
	return s
}

// GetTrades drains up to a batch of queued trades, waiting briefly when
// none are pending. Once the connection loop has terminated its error
// is returned wrapped in FatalError so the service stops retrying.
func (s *LiveSource) GetTrades(ctx context.Context) ([]model.Trade, error) {
	for {
		batch := make([]model.Trade, 0, liveBatchMax)
		for len(batch) < liveBatchMax {
			t, ok := s.ring.Pop()
			if !ok {
				break
			}
			batch = append(batch, t)
		}
		if len(batch) > 0 {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			if s.runErr != nil {
				// The connection loop only terminates on unrecoverable
				// failures; reconnectable ones it handles itself.
				return nil, &FatalError{Err: s.runErr}
			}
			return nil, nil
		case <-time.After(livePollDelay):
		}
	}
}

// IsDone always reports false: a live feed has no end.
func (s *LiveSource) IsDone() bool { return false }

// Overflow returns the number of trades dropped on a full ring.
func (s *LiveSource) Overflow() uint64 { return s.ring.Overflow() }

// Close stops the connection loop.
func (s *LiveSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}
