// cmd/krakensim — Simulated Kraken v2 WebSocket server.
// Speaks just enough of the v2 trade dialect for tradefeed to run
// against it without hitting the real exchange: subscribe requests get
// a per-symbol ack plus a snapshot frame, then random-walk trade
// updates and periodic heartbeats.
//
// Config (env vars):
//
//	KRAKEN_SIM_ADDR         — listen address (default: ":8788")
//	KRAKEN_SIM_PAIRS        — comma-separated pairs (default: "BTC/USD,ETH/USD")
//	KRAKEN_SIM_INTERVAL_MS  — trade interval milliseconds (default: "500")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTrade is one element of a v2 trade frame's data array. Prices and
// quantities travel as decimal strings, like the real feed.
type wsTrade struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Side      string `json:"side"`
	OrdType   string `json:"ord_type"`
	TradeID   int64  `json:"trade_id"`
	Timestamp string `json:"timestamp"`
}

type tradeFrame struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"`
	Data    []wsTrade `json:"data"`
}

type subscribeRequest struct {
	Method string `json:"method"`
	Params struct {
		Channel string   `json:"channel"`
		Symbol  []string `json:"symbol"`
	} `json:"params"`
}

type subscribeAck struct {
	Method  string `json:"method"`
	Success bool   `json:"success"`
	Result  struct {
		Channel string `json:"channel"`
		Symbol  string `json:"symbol"`
	} `json:"result"`
}

// market holds per-pair simulation state. The mutex covers concurrent
// access from the generator and the per-connection snapshot replies.
type market struct {
	mu      sync.Mutex
	Pair    string
	Price   float64
	TradeID int64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

// client is one connected consumer with its subscription set.
type client struct {
	ch      chan []byte
	mu      sync.Mutex
	symbols map[string]bool
}

func (c *client) subscribe(symbol string) {
	c.mu.Lock()
	c.symbols[symbol] = true
	c.mu.Unlock()
}

func (c *client) subscribed(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbols[symbol]
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	cl := &client{ch: make(chan []byte, 256), symbols: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = cl
	h.mu.Unlock()
	return cl
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if cl, ok := h.clients[conn]; ok {
		close(cl.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// broadcast delivers a frame to every client subscribed to symbol.
// An empty symbol (heartbeats) reaches everyone.
func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		if symbol != "" && !cl.subscribed(symbol) {
			continue
		}
		select {
		case cl.ch <- msg:
		default: // slow client — drop frame
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, markets map[string]*market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[krakensim] upgrade error: %v", err)
			return
		}
		log.Printf("[krakensim] client connected: %s", r.RemoteAddr)

		cl := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[krakensim] client disconnected: %s", r.RemoteAddr)
		}()

		cl.ch <- []byte(`{"channel":"status","type":"update","data":[{"system":"online","version":"2.0.0"}]}`)

		// Read pump: handles subscribe requests.
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var req subscribeRequest
				if err := json.Unmarshal(raw, &req); err != nil || req.Method != "subscribe" {
					continue
				}
				if req.Params.Channel != "trade" {
					continue
				}
				for _, sym := range req.Params.Symbol {
					mkt, ok := markets[sym]
					if !ok {
						log.Printf("[krakensim] subscribe for unknown pair %q", sym)
						continue
					}
					cl.subscribe(sym)

					// The real feed sends one ack per symbol, then a
					// snapshot trade frame.
					ack := subscribeAck{Method: "subscribe", Success: true}
					ack.Result.Channel = "trade"
					ack.Result.Symbol = sym
					if b, err := json.Marshal(ack); err == nil {
						cl.ch <- b
					}
					snap := tradeFrame{Channel: "trade", Type: "snapshot", Data: []wsTrade{simTrade(mkt)}}
					if b, err := json.Marshal(snap); err == nil {
						cl.ch <- b
					}
					log.Printf("[krakensim] %s subscribed to %s", r.RemoteAddr, sym)
				}
			}
		}()

		// Write pump.
		for msg := range cl.ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ──────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// simTrade builds the next trade for a market, advancing its state.
func simTrade(m *market) wsTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Price = walkPrice(m.Price)
	m.TradeID++
	side := "buy"
	if rand.Intn(2) == 0 {
		side = "sell"
	}
	return wsTrade{
		Symbol:    m.Pair,
		Price:     strconv.FormatFloat(m.Price, 'f', 2, 64),
		Qty:       strconv.FormatFloat(rand.Float64()*2+0.001, 'f', 8, 64),
		Side:      side,
		OrdType:   "market",
		TradeID:   m.TradeID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func runGenerator(h *hub, markets map[string]*market, intervalMs int) {
	trades := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer trades.Stop()
	heartbeats := time.NewTicker(time.Second)
	defer heartbeats.Stop()

	for {
		select {
		case <-trades.C:
			for _, m := range markets {
				frame := tradeFrame{Channel: "trade", Type: "update", Data: []wsTrade{simTrade(m)}}
				b, err := json.Marshal(frame)
				if err != nil {
					continue
				}
				h.broadcast(m.Pair, b)
			}
		case <-heartbeats.C:
			h.broadcast("", []byte(`{"channel":"heartbeat"}`))
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[krakensim] starting simulated kraken v2 server...")

	addr := envOrDefault("KRAKEN_SIM_ADDR", ":8788")
	pairsEnv := envOrDefault("KRAKEN_SIM_PAIRS", "BTC/USD,ETH/USD")
	intervalMs := envIntOrDefault("KRAKEN_SIM_INTERVAL_MS", 500)

	markets := parseMarkets(pairsEnv)
	if len(markets) == 0 {
		log.Fatalf("[krakensim] no pairs configured via KRAKEN_SIM_PAIRS")
	}
	log.Printf("[krakensim] pairs: %s", pairsEnv)
	log.Printf("[krakensim] trade interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, markets, intervalMs)

	http.HandleFunc("/v2", wsHandler(h, markets))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"krakensim"}`)
	})

	log.Printf("[krakensim] listening on %s  (WebSocket: ws://localhost%s/v2)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[krakensim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseMarkets(s string) map[string]*market {
	startPrices := map[string]float64{
		"BTC/USD": 65000,
		"ETH/USD": 3400,
		"SOL/USD": 150,
		"XRP/USD": 0.55,
	}

	markets := make(map[string]*market)
	for _, part := range strings.Split(s, ",") {
		pair := strings.TrimSpace(part)
		if pair == "" {
			continue
		}
		price := startPrices[pair]
		if price == 0 {
			price = 1000
		}
		markets[pair] = &market{Pair: pair, Price: price}
	}
	return markets
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
