package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trendscope/internal/model"
)

// Client represents a single WebSocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.RWMutex
	filter Filter
}

// Filter selects the messages a client receives. Empty fields match
// everything; Terms only applies to extremum and trend messages.
type Filter struct {
	Instruments []string          `json:"instruments,omitempty"`
	TFs         []model.TimeFrame `json:"tfs,omitempty"`
	Terms       []string          `json:"terms,omitempty"`
	Kinds       []string          `json:"kinds,omitempty"` // "extr", "trend", "bar"
}

func (f Filter) accepts(r route) bool {
	return matchAny(f.Kinds, r.kind) &&
		matchAny(f.Instruments, r.instrument) &&
		matchAny(f.TFs, r.tf) &&
		(r.term == "" || matchAny(f.Terms, r.term))
}

func matchAny[T comparable](set []T, v T) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (c *Client) accepts(r route) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.accepts(r)
}

func (c *Client) setFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// sendInitialState queues the latest value of every matching channel
// updated after lastTS.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return // already removed, send is closed
	}
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if r, ok := parseChannel(channel); ok && !c.accepts(r) {
			continue
		}
		env, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientMsg is anything a client may send.
type clientMsg struct {
	Type string `json:"type"` // "SUBSCRIBE", "UNSUBSCRIBE" or empty
	Ping int64  `json:"ping"`
	Filter
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Printf("[gateway] ws client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if reply := c.handle(msg); reply != nil {
			select {
			case c.send <- reply:
			default:
			}
		}
	}
}

// handle applies a client message and returns the reply, if any.
func (c *Client) handle(msg clientMsg) []byte {
	var reply map[string]interface{}
	switch msg.Type {
	case "SUBSCRIBE":
		c.setFilter(msg.Filter)
		log.Printf("[gateway] client %s filter: %+v", c.id, msg.Filter)
		reply = map[string]interface{}{"type": "subscribed", "filter": msg.Filter}
	case "UNSUBSCRIBE":
		c.setFilter(Filter{})
		reply = map[string]interface{}{"type": "unsubscribed"}
	default:
		if msg.Ping <= 0 {
			return nil
		}
		reply = map[string]interface{}{
			"type":      "pong",
			"ping":      msg.Ping,
			"server_ts": time.Now().UnixMilli(),
		}
	}
	b, _ := json.Marshal(reply)
	return b
}
