package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"cryptoflow/internal/model"
)

const defaultWSURL = "wss://ws.kraken.com/v2"

// ErrSubscribeRejected signals that the exchange refused a trade
// subscription (unknown pair, bad request). Reconnecting would just
// replay the same rejection, so Run returns instead of retrying.
var ErrSubscribeRejected = errors.New("kraken ws: subscribe rejected")

// WSConfig holds the WebSocket client settings.
type WSConfig struct {
	URL   string // default: wss://ws.kraken.com/v2
	Pairs []string
	Debug bool
}

// WSClient streams live trades over the Kraken v2 WebSocket. It
// reconnects with jittered exponential backoff and resubscribes on
// every (re)connect.
type WSClient struct {
	cfg    WSConfig
	dialer *websocket.Dialer

	// Callbacks
	OnTrade     func(model.Trade)
	OnOpen      func()
	OnReconnect func()
}

// NewWS creates a WebSocket client for the given pairs.
func NewWS(cfg WSConfig) *WSClient {
	if cfg.URL == "" {
		cfg.URL = defaultWSURL
	}
	return &WSClient{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
	}
}

// subscribeRequest is the Kraken v2 subscribe envelope.
type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []string `json:"symbol"`
	Snapshot bool     `json:"snapshot"`
}

// wsEnvelope is the common shape of every v2 frame.
type wsEnvelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Method  string          `json:"method"`
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Result  *subscribeAck   `json:"result"`
	Data    json.RawMessage `json:"data"`
}

type subscribeAck struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// wsTrade is one element of a trade frame's data array.
type wsTrade struct {
	Symbol    string        `json:"symbol"`
	Price     model.Decimal `json:"price"`
	Qty       model.Decimal `json:"qty"`
	Side      string        `json:"side"`
	OrdType   string        `json:"ord_type"`
	TradeID   int64         `json:"trade_id"`
	Timestamp string        `json:"timestamp"`
}

// Run connects, subscribes and reads trade frames until ctx is
// cancelled. Connection losses trigger reconnect + resubscribe; a
// failed initial connect or a rejected subscription is returned to the
// caller instead.
func (c *WSClient) Run(ctx context.Context) error {
	bo := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	first := true
	for {
		connected, err := c.runConn(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		if first && !connected {
			// A first connection that never came up is a
			// control-plane failure.
			return fmt.Errorf("kraken ws: initial connect: %w", err)
		}
		first = false
		if errors.Is(err, ErrSubscribeRejected) {
			return err
		}

		d := bo.Duration()
		log.Printf("[kraken-ws] connection lost: %v, reconnecting in %s", err, d.Round(time.Millisecond))
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
}

// runConn handles one connection lifetime: dial, subscribe, read loop.
// connected reports whether the subscription was established.
func (c *WSClient) runConn(ctx context.Context, bo *backoff.Backoff) (connected bool, err error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: status %s: %w", c.cfg.URL, resp.Status, err)
		}
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	sub := subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{
			Channel:  "trade",
			Symbol:   c.cfg.Pairs,
			Snapshot: false,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[kraken-ws] connected, subscribed to trade channel for %v", c.cfg.Pairs)

	bo.Reset()
	if c.OnOpen != nil {
		c.OnOpen()
	}

	// Kraken sends an ack and a snapshot frame per symbol even with
	// snapshot:false requested; both are discarded.
	skip := make(map[string]int, len(c.cfg.Pairs))
	for _, p := range c.cfg.Pairs {
		skip[p] = 2
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		trades, err := parseWSFrame(raw, skip, c.cfg.Debug)
		if err != nil {
			return true, err
		}
		for _, tr := range trades {
			if c.OnTrade != nil {
				c.OnTrade(tr)
			}
		}
	}
}

// parseWSFrame turns one raw frame into zero or more trades.
// Heartbeats, status frames, subscribe acks and the first two frames
// per symbol yield nothing. Malformed frames are logged and skipped;
// the only error is a subscribe rejection, which ends the connection.
func parseWSFrame(raw []byte, skip map[string]int, debug bool) ([]model.Trade, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[kraken-ws] skipping unparseable frame: %v", err)
		return nil, nil
	}

	switch {
	case env.Channel == "heartbeat":
		return nil, nil
	case env.Channel == "status":
		if debug {
			log.Printf("[kraken-ws] status frame: %s", raw)
		}
		return nil, nil
	case env.Method == "subscribe":
		sym := ""
		if env.Result != nil {
			sym = env.Result.Symbol
		}
		if env.Success != nil && !*env.Success {
			return nil, fmt.Errorf("%w: symbol %q: %s", ErrSubscribeRejected, sym, env.Error)
		}
		if n, ok := skip[sym]; ok && n > 0 {
			skip[sym] = n - 1
		}
		return nil, nil
	case env.Channel != "trade":
		return nil, nil
	}

	if len(env.Data) == 0 {
		log.Printf("[kraken-ws] trade frame without data, skipping")
		return nil, nil
	}

	var rows []wsTrade
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		log.Printf("[kraken-ws] skipping malformed trade data: %v", err)
		return nil, nil
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// The whole frame belongs to one symbol; snapshot frames count
	// against the per-symbol skip budget.
	if n, ok := skip[rows[0].Symbol]; ok && n > 0 {
		skip[rows[0].Symbol] = n - 1
		return nil, nil
	}

	trades := make([]model.Trade, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
		if err != nil {
			log.Printf("[kraken-ws] skipping trade with bad timestamp %q: %v", row.Timestamp, err)
			continue
		}
		trades = append(trades, model.Trade{
			Pair:          row.Symbol,
			Price:         row.Price,
			Quantity:      row.Qty,
			TimestampMs:   ts.UnixMilli(),
			SchemaVersion: model.SchemaVersion,
		})
	}
	return trades, nil
}
