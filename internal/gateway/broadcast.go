package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"trendscope/internal/model"
	"trendscope/internal/ringbuf"
)

// route is what a client filter can select on.
type route struct {
	kind       string // "extr", "trend" or "bar"
	tf         model.TimeFrame
	instrument string
	term       string // empty for bars
}

// parseChannel splits "pub:{kind}:{tf}:{exchange}:{ticker}". ok is false
// for anything else.
func parseChannel(channel string) (route, bool) {
	parts := strings.SplitN(channel, ":", 4)
	if len(parts) != 4 || parts[0] != "pub" {
		return route{}, false
	}
	switch parts[1] {
	case "extr", "trend", "bar":
	default:
		return route{}, false
	}
	return route{kind: parts[1], tf: model.TimeFrame(parts[2]), instrument: parts[3]}, true
}

// Broadcast records data as the latest value of channel and sends it to
// every client whose filter matches. Slow clients drop messages.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()
	r, routed := parseChannel(channel)
	if routed && r.kind != "bar" {
		var p struct {
			Term string `json:"term"`
		}
		if json.Unmarshal(data, &p) == nil {
			r.term = p.Term
		}
	}

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	seq := h.seq
	rb := h.replay[channel]
	if rb == nil {
		rb = ringbuf.New[envelope](replayPerChannel)
		h.replay[channel] = rb
	}
	h.mu.Unlock()

	buf := appendEnvelope(nil, channel, data, now, seq, channelSeq)
	rb.Push(envelope{Seq: channelSeq, Data: buf})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if routed && !c.accepts(r) {
			continue
		}
		select {
		case c.send <- buf:
			if h.prom != nil {
				h.prom.WSMessagesTotal.Inc()
			}
		default:
			if h.prom != nil {
				h.prom.WSDropsTotal.Inc()
			}
		}
	}
}

// appendEnvelope builds
// {"channel":...,"data":...,"ts":...,"seq":N,"channel_seq":M} without
// reflection. data must already be JSON.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
