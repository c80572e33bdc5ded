package redis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptoflow/internal/model"
)

// ReaderConfig configures the consumer-group reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int

	Group    string // consumer group, e.g. "candles_consumer_group"
	Consumer string // unique consumer name, e.g. hostname + pid

	// SnapshotKey is the key engine snapshots are stored under. Empty
	// disables the snapshot store methods.
	SnapshotKey string
}

// Reader consumes per-pair topic streams through a consumer group with
// at-least-once semantics: entries stay in the group's PEL until the
// caller Acks them after flushing its outputs.
type Reader struct {
	client      *goredis.Client
	group       string
	consumer    string
	snapshotKey string
}

// NewReader creates a Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, cfg.Group, consumer)
	return &Reader{
		client:      client,
		group:       cfg.Group,
		consumer:    consumer,
		snapshotKey: cfg.SnapshotKey,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureGroups creates the consumer group on each stream if missing.
// start is "$" (live: new entries only) or "0" (historical: from the
// earliest retained entry). An existing group keeps its position.
func (r *Reader) EnsureGroups(ctx context.Context, streams []string, start string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.group, start).Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Consume blocks reading new entries for this consumer and sends them
// to out. Entries are NOT acked here; the processor acks after its
// outputs are flushed. Returns when ctx is cancelled.
func (r *Reader) Consume(ctx context.Context, streams []string, out chan<- model.StreamMessage) error {
	// XREADGROUP args: [stream1, ..., streamN, ">", ..., ">"]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					// Malformed entry: ack to avoid a poison pill.
					r.Ack(ctx, stream.Stream, msg.ID)
					continue
				}
				select {
				case out <- model.StreamMessage{Stream: stream.Stream, ID: msg.ID, Data: []byte(data)}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Ack acknowledges a processed entry. Errors are logged, not returned:
// a failed ack only means the entry may be re-delivered (at-least-once).
func (r *Reader) Ack(ctx context.Context, stream, id string) {
	if err := r.client.XAck(ctx, stream, r.group, id).Err(); err != nil && ctx.Err() == nil {
		log.Printf("[redis-reader] xack %s %s: %v", stream, id, err)
	}
}

// RecoverPending claims and re-delivers this group's unACKed entries
// from a previous run. Called once at startup before Consume.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.StreamMessage) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.group,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.group,
				Consumer: r.consumer,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			for _, msg := range claimed {
				data, ok := msg.Values["data"].(string)
				if !ok {
					r.Ack(ctx, stream, msg.ID)
					continue
				}
				select {
				case out <- model.StreamMessage{Stream: stream, ID: msg.ID, Data: []byte(data)}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// reclaimStale finds PEL entries idle longer than minIdle that belong
// to OTHER consumers of the group and XCLAIMs them for this one.
func (r *Reader) reclaimStale(ctx context.Context, stream string, minIdle time.Duration, batch int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  batch,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	return claimed, nil
}

// StartPELReclaimer runs a periodic background loop that picks up
// entries stuck with dead consumers and re-delivers them to out.
// Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration,
	minIdle time.Duration, out chan<- model.StreamMessage, onReclaim func(count int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				total := 0
				for _, stream := range streams {
					claimed, err := r.reclaimStale(ctx, stream, minIdle, 50)
					if err != nil {
						log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
						continue
					}
					for _, msg := range claimed {
						data, ok := msg.Values["data"].(string)
						if !ok {
							r.Ack(ctx, stream, msg.ID)
							continue
						}
						select {
						case out <- model.StreamMessage{Stream: stream, ID: msg.ID, Data: []byte(data)}:
						case <-ctx.Done():
							return
						}
						total++
					}
				}
				if total > 0 && onReclaim != nil {
					onReclaim(total)
				}
			}
		}
	}()
}

// ReplayFromID reads entries after startID (exclusive) outside the
// consumer group, for state reconstruction. startID "0" replays the
// whole retained stream. Returns the last ID read.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.StreamMessage) (string, error) {
	lastID := startID
	for {
		lower := "(" + lastID
		if lastID == "0" || lastID == "" {
			lower = "-"
		}
		results, err := r.client.XRangeN(ctx, stream, lower, "+", 1000).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}
		if len(results) == 0 {
			return lastID, nil
		}

		for _, msg := range results {
			lastID = msg.ID
			data, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			select {
			case out <- model.StreamMessage{Stream: stream, ID: msg.ID, Data: []byte(data)}:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < 1000 {
			return lastID, nil
		}
	}
}

// TailN returns up to n most recent entries of a stream in ascending
// ID order, outside the consumer group. Used to prime indicator
// buffers at startup.
func (r *Reader) TailN(ctx context.Context, stream string, n int64) ([]model.StreamMessage, error) {
	results, err := r.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}

	// XREVRANGE yields newest-first; flip to replay order.
	out := make([]model.StreamMessage, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		msg := results[i]
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		out = append(out, model.StreamMessage{Stream: stream, ID: msg.ID, Data: []byte(data)})
	}
	return out, nil
}

// DiscoverStreams lists the per-pair streams of a topic by scanning
// for <topic>:* keys. The latest:* mirror keys share no prefix with
// topic streams, so a plain prefix match is enough.
func (r *Reader) DiscoverStreams(ctx context.Context, topic string) ([]string, error) {
	var streams []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, topic+":*", 100).Result()
		if err != nil {
			return streams, fmt.Errorf("scan %s:*: %w", topic, err)
		}
		for _, key := range keys {
			typ, err := r.client.Type(ctx, key).Result()
			if err == nil && typ == "stream" {
				streams = append(streams, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return streams, nil
		}
	}
}

// SaveSnapshotJSON stores an engine snapshot with a 24h TTL. Snapshots
// are advisory: losing one only costs a longer replay at startup.
func (r *Reader) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	if r.snapshotKey == "" {
		return nil
	}
	return r.client.Set(ctx, r.snapshotKey, data, 24*time.Hour).Err()
}

// ReadLatestSnapshotJSON loads the stored snapshot, or nil when none
// exists.
func (r *Reader) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	if r.snapshotKey == "" {
		return nil, nil
	}
	data, err := r.client.Get(ctx, r.snapshotKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", r.snapshotKey, err)
	}
	return data, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
