// Package gateway fans detector events out to WebSocket clients. A hub
// pattern-subscribes to the engine's pub/sub channels and forwards every
// message, wrapped in an envelope with per-channel sequence numbers, to the
// clients whose filter matches.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trendscope/internal/metrics"
	"trendscope/internal/ringbuf"
	redisstore "trendscope/internal/store/redis"
)

const replayPerChannel = 512

// Hub manages WebSocket clients and Redis pub/sub fan-out.
type Hub struct {
	rdb  *goredis.Client
	prom *metrics.Metrics

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replay      map[string]*ringbuf.Ring[envelope]
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// envelope is a pre-built message kept for replay.
type envelope struct {
	Seq  int64
	Data []byte
}

// NewHub creates a hub. prom may be nil.
func NewHub(rdb *goredis.Client, prom *metrics.Metrics) *Hub {
	return &Hub{
		rdb:         rdb,
		prom:        prom,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replay:      make(map[string]*ringbuf.Ring[envelope]),
	}
}

// Run pattern-subscribes to the extremum, trend and live bar channels and
// broadcasts every message. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx,
		redisstore.ExtremumChannelPattern,
		redisstore.TrendChannelPattern,
		redisstore.LiveBarChannelPattern)
	defer pubsub.Close()
	log.Println("[gateway] subscribed to event channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// HandleWS registers an upgraded connection. lastTS (RFC3339Nano, may be
// empty) limits the initial state to channels updated after it.
func (h *Hub) HandleWS(conn *websocket.Conn, lastTS string) *Client {
	c := newClient(h, conn)
	conn.EnableWriteCompression(true)
	count := h.register(c)
	log.Printf("[gateway] ws client %s connected (%d total)", c.id, count)

	go c.sendInitialState(lastTS)
	go c.writePump()
	go c.readPump()
	return c
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
}

func (h *Hub) register(c *Client) int {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(n))
	}
	return n
}

// RemoveClient removes a client from the hub and closes its queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	if h.prom != nil {
		h.prom.WSClients.Set(float64(n))
	}
}

// LatestAll returns the last payload of every channel seen.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns buffered envelopes of a channel with fromSeq <= seq
// <= toSeq, for client gap backfill.
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb := h.replay[channel]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}
	entries := rb.Select(func(e envelope) bool { return e.Seq >= fromSeq && e.Seq <= toSeq })
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ChannelSeq returns the current sequence number of a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
