package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"trendscope/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader consumes bar streams through a consumer group.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewReader wraps a connected client. Empty group and consumer names fall
// back to "trendengine" and "worker-1".
func NewReader(client *goredis.Client, group, consumer string) *Reader {
	if group == "" {
		group = "trendengine"
	}
	if consumer == "" {
		consumer = "worker-1"
	}
	log.Printf("[redis-reader] group=%s consumer=%s", group, consumer)
	return &Reader{client: client, consumerGroup: group, consumerName: consumer}
}

// decodeBar parses a stream entry. ok is false for entries that can never
// be processed; callers ACK those so they do not poison the group.
func decodeBar(msg goredis.XMessage) (model.BarMessage, bool) {
	var bm model.BarMessage
	data, isString := msg.Values["data"].(string)
	if !isString {
		return bm, false
	}
	if err := json.Unmarshal([]byte(data), &bm); err != nil {
		log.Printf("[redis-reader] unmarshal bar %s: %v", msg.ID, err)
		return bm, false
	}
	return bm, true
}

// EnsureConsumerGroup creates the group on each stream, reading from the
// beginning so a fresh engine sees the full stream.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// DiscoverBarStreams scans for "bar:*" streams, restricted to the given
// timeframes when tfs is non-empty.
func (r *Reader) DiscoverBarStreams(ctx context.Context, tfs []model.TimeFrame) ([]string, error) {
	allowed := make(map[model.TimeFrame]bool, len(tfs))
	for _, tf := range tfs {
		allowed[tf] = true
	}

	var out []string
	iter := r.client.Scan(ctx, 0, barStreamPattern, 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		s, err := model.ParseBarStreamKey(key)
		if err != nil {
			continue
		}
		if len(allowed) > 0 && !allowed[s.TF] {
			continue
		}
		out = append(out, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan bar streams: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// ConsumeBars reads bars via XREADGROUP and sends them to out, ACKing each
// entry once it is handed off. Returns when ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.BarMessage) error {
	if len(streams) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	// [stream1, stream2, ..., ">", ">", ...]
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
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
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
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.BarMessage) error {
	for _, msg := range msgs {
		bm, ok := decodeBar(msg)
		if ok {
			select {
			case out <- bm:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := r.client.XAck(ctx, stream, r.consumerGroup, msg.ID).Err(); err != nil {
			log.Printf("[redis-reader] XACK %s %s: %v", stream, msg.ID, err)
		}
	}
	return nil
}

// RecoverPending re-delivers entries this consumer read but never ACKed
// before a crash.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.BarMessage) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Start:    "-",
				End:      "+",
				Count:    100,
				Consumer: r.consumerName,
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
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}
			if err := r.deliver(ctx, stream, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// StartPELReclaimer periodically steals entries idle longer than minIdle
// from other (presumably dead) consumers of the group and re-delivers them.
// Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.BarMessage, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.reclaimStale(ctx, stream, minIdle)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				if err := r.deliver(ctx, stream, claimed, out); err != nil {
					return
				}
				total += len(claimed)
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

func (r *Reader) reclaimStale(ctx context.Context, stream string, minIdle time.Duration) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  50,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var stale []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}
	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  minIdle,
		Messages: stale,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	log.Printf("[redis-reader] reclaimed %d stale entries from %s", len(claimed), stream)
	return claimed, nil
}

// SubscribeLiveBars forwards forming bars from "pub:bar:*" to out, dropping
// them when out is full. Blocks until ctx is cancelled.
func (r *Reader) SubscribeLiveBars(ctx context.Context, out chan<- model.BarMessage) error {
	pubsub := r.client.PSubscribe(ctx, LiveBarChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var bm model.BarMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				continue
			}
			bm.Live = true
			select {
			case out <- bm:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel and waits for the
// confirmation. Returns nil on failure.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}
