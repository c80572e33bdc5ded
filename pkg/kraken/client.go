// Package kraken is a client for Kraken's public market data: the
// /0/public/Trades REST endpoint with since-cursor pagination and the
// v2 WebSocket trade channel.
//
// Usage example:
//
//	c := kraken.NewClient(kraken.Config{})
//	trades, next, err := c.GetTrades(ctx, "BTC/USD", since)
//	if err != nil { log.Fatal(err) }
//	// next is the cursor for the following page
package kraken

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptoflow/internal/model"
)

const defaultRESTURL = "https://api.kraken.com/0/public/Trades"

// APIError is a non-empty error array in a Kraken REST payload.
type APIError struct {
	Messages []string
}

func (e *APIError) Error() string {
	return "kraken api: " + strings.Join(e.Messages, "; ")
}

// Permanent reports whether the error means the request itself is bad
// (EQuery:* codes, e.g. an unknown asset pair) rather than the service
// being busy. Retrying a permanent error just replays it.
func (e *APIError) Permanent() bool {
	for _, m := range e.Messages {
		if strings.HasPrefix(m, "EQuery:") {
			return true
		}
	}
	return false
}

// Config holds the REST client settings.
type Config struct {
	RESTURL string        // default: https://api.kraken.com/0/public/Trades
	Timeout time.Duration // default: 10s
	Debug   bool
}

// Client fetches public trades over REST.
type Client struct {
	restURL    string
	httpClient *http.Client
	debug      bool
}

// NewClient initializes the REST client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.RESTURL == "" {
		cfg.RESTURL = defaultRESTURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &Client{
		restURL:    strings.TrimRight(cfg.RESTURL, "/"),
		httpClient: &http.Client{Transport: tr, Timeout: cfg.Timeout},
		debug:      cfg.Debug,
	}
}

// tradesResponse is the /0/public/Trades payload. Result holds one
// key per pair (rows of [price, volume, time, side, order_type, misc,
// trade_id]) plus "last", the next since cursor as a decimal string.
type tradesResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// GetTrades fetches one page of public trades for pair starting at the
// since cursor (nanoseconds). Returns the trades in exchange order and
// the cursor for the next page. API-level errors come back as
// *APIError with the cursor unchanged.
func (c *Client) GetTrades(ctx context.Context, pair string, sinceNS int64) ([]model.Trade, int64, error) {
	q := url.Values{}
	q.Set("pair", pair)
	q.Set("since", strconv.FormatInt(sinceNS, 10))
	reqURL := c.restURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, sinceNS, err
	}
	req.Header.Set("Accept", "application/json")

	if c.debug {
		log.Printf("[kraken] GET %s", reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sinceNS, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sinceNS, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sinceNS, fmt.Errorf("kraken: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out tradesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, sinceNS, fmt.Errorf("kraken: parse response: %w", err)
	}
	if len(out.Error) > 0 {
		return nil, sinceNS, &APIError{Messages: out.Error}
	}

	next := sinceNS
	if lastRaw, ok := out.Result["last"]; ok {
		var lastStr string
		if err := json.Unmarshal(lastRaw, &lastStr); err == nil {
			if n, perr := strconv.ParseInt(lastStr, 10, 64); perr == nil {
				next = n
			}
		}
	}

	// The result key is Kraken's internal pair name, which need not
	// match the requested one. Take every key except the cursor.
	var trades []model.Trade
	for key, rowsRaw := range out.Result {
		if key == "last" {
			continue
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(rowsRaw, &rows); err != nil {
			log.Printf("[kraken] skipping malformed result key %q: %v", key, err)
			continue
		}
		for _, r := range rows {
			tr, perr := parseTradeRow(pair, r)
			if perr != nil {
				log.Printf("[kraken] skipping malformed trade row: %v", perr)
				continue
			}
			trades = append(trades, tr)
		}
	}
	return trades, next, nil
}

// parseTradeRow decodes one REST trade row. Only the first three
// fields matter: price, volume (decimal strings) and time (float
// seconds).
func parseTradeRow(pair string, raw json.RawMessage) (model.Trade, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.Trade{}, err
	}
	if len(row) < 3 {
		return model.Trade{}, fmt.Errorf("trade row has %d fields, want >= 3", len(row))
	}

	var price, volume model.Decimal
	if err := json.Unmarshal(row[0], &price); err != nil {
		return model.Trade{}, fmt.Errorf("price: %w", err)
	}
	if err := json.Unmarshal(row[1], &volume); err != nil {
		return model.Trade{}, fmt.Errorf("volume: %w", err)
	}
	var tsSec float64
	if err := json.Unmarshal(row[2], &tsSec); err != nil {
		return model.Trade{}, fmt.Errorf("time: %w", err)
	}

	return model.Trade{
		Pair:          pair,
		Price:         price,
		Quantity:      volume,
		TimestampMs:   int64(math.Round(tsSec * 1000)),
		SchemaVersion: model.SchemaVersion,
	}, nil
}

// IsTLSError reports whether err looks like a TLS/certificate failure.
// Those get a longer pause before retrying instead of the normal
// next-round retry.
func IsTLSError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "tls:") ||
		strings.Contains(s, "x509:") ||
		strings.Contains(s, "certificate")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
