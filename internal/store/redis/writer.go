package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"trendscope/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 24 * time.Hour
	eventStreamLen   = 5000
	barStreamLen     = 20000
)

// Writer publishes detector events and bars.
type Writer struct {
	client *goredis.Client
}

// NewWriter wraps a connected client.
func NewWriter(client *goredis.Client) *Writer {
	return &Writer{client: client}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// WriteEvents sends one batch in a single pipeline. Historical events get
// XADD + SET latest + PUBLISH; live events only PUBLISH.
func (w *Writer) WriteEvents(ctx context.Context, batch model.EventBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range batch.Extrema {
		e := &batch.Extrema[i]
		w.queue(ctx, pipe, e.Live, e.StreamKey(), e.LatestKey(), e.Channel(), string(e.JSON()))
	}
	for i := range batch.Trends {
		e := &batch.Trends[i]
		w.queue(ctx, pipe, e.Live, e.StreamKey(), e.LatestKey(), e.Channel(), string(e.JSON()))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis event pipeline (%d events): %w", batch.Len(), err)
	}
	return nil
}

func (w *Writer) queue(ctx context.Context, pipe goredis.Pipeliner, live bool, stream, latest, channel, data string) {
	if !live {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			MaxLen: eventStreamLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, latest, data, defaultLatestTTL)
	}
	pipe.Publish(ctx, channel, data)
}

// WriteBar appends a finalized bar to its series stream, or publishes a
// forming bar on the live channel.
func (w *Writer) WriteBar(ctx context.Context, msg model.BarMessage) error {
	data := string(msg.JSON())
	if msg.Live {
		return w.client.Publish(ctx, LiveBarChannel(string(msg.TF), msg.Instrument), data).Err()
	}
	return w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: msg.Series().BarStreamKey(),
		MaxLen: barStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err()
}

// SaveSnapshotJSON stores the latest detector snapshot of a series with a
// 24h TTL. The SQL store keeps the durable copies.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, s model.Series, data []byte) error {
	return w.client.Set(ctx, SnapshotKey(string(s.TF), s.Instrument), data, defaultLatestTTL).Err()
}

// ReadLatestSnapshotJSON returns nil, nil when no snapshot is cached.
func (w *Writer) ReadLatestSnapshotJSON(ctx context.Context, s model.Series) ([]byte, error) {
	data, err := w.client.Get(ctx, SnapshotKey(string(s.TF), s.Instrument)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot %s: %w", s, err)
	}
	return data, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	log.Printf("[redis] closing writer")
	return w.client.Close()
}
