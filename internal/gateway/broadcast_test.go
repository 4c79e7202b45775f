package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"trendscope/internal/metrics"
	"trendscope/internal/model"
)

type wireEnvelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial"`
}

func fakeClient(h *Hub, f Filter) *Client {
	c := &Client{id: "test", send: make(chan []byte, 16), hub: h, filter: f}
	h.register(c)
	return c
}

func drain(c *Client) []wireEnvelope {
	var out []wireEnvelope
	for {
		select {
		case b := <-c.send:
			var env wireEnvelope
			json.Unmarshal(b, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

const (
	sberExtr  = "pub:extr:D:MOEX:SBER"
	sberTrend = "pub:trend:D:MOEX:SBER"
	sberBar   = "pub:bar:D:MOEX:SBER"
	gazpExtr  = "pub:extr:1H:MOEX:GAZP"
)

func TestAppendEnvelope(t *testing.T) {
	data := []byte(`{"term":"T2","kind":"Max","ts":1,"price":274.25}`)
	now := time.Date(2024, 12, 25, 10, 0, 0, 0, time.UTC)
	buf := appendEnvelope(nil, sberExtr, data, now, 42, 7)

	var env wireEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != sberExtr || env.Seq != 42 || env.ChannelSeq != 7 {
		t.Errorf("envelope = %+v", env)
	}
	if string(env.Data) != string(data) {
		t.Errorf("data = %s", env.Data)
	}
	if env.TS != "2024-12-25T10:00:00Z" {
		t.Errorf("ts = %s", env.TS)
	}
}

func TestParseChannel(t *testing.T) {
	r, ok := parseChannel(gazpExtr)
	if !ok || r.kind != "extr" || r.tf != model.TF1H || r.instrument != "MOEX:GAZP" {
		t.Errorf("parse = %+v %v", r, ok)
	}
	for _, bad := range []string{"pub:ind:x:y", "foo:extr:D:X", "pub:extr:D"} {
		if _, ok := parseChannel(bad); ok {
			t.Errorf("%q parsed", bad)
		}
	}
}

func TestBroadcast_Filters(t *testing.T) {
	h := NewHub(nil, metrics.NewMetrics(prometheus.NewRegistry()))
	all := fakeClient(h, Filter{})
	sberT3 := fakeClient(h, Filter{Instruments: []string{"MOEX:SBER"}, Terms: []string{"T3"}})
	bars := fakeClient(h, Filter{Kinds: []string{"bar"}})

	h.Broadcast(sberExtr, []byte(`{"term":"T1"}`))
	h.Broadcast(sberTrend, []byte(`{"term":"T3"}`))
	h.Broadcast(sberBar, []byte(`{"o":1}`))
	h.Broadcast(gazpExtr, []byte(`{"term":"T3"}`))
	h.Broadcast("system:notice", []byte(`{}`))

	if got := drain(all); len(got) != 5 {
		t.Errorf("unfiltered client got %d, want 5", len(got))
	}
	got := drain(sberT3)
	if len(got) != 3 || got[0].Channel != sberTrend || got[1].Channel != sberBar || got[2].Channel != "system:notice" {
		t.Errorf("SBER T3 client got %+v", got)
	}
	got = drain(bars)
	if len(got) != 2 || got[0].Channel != sberBar {
		t.Errorf("bar client got %+v", got)
	}
}

func TestBroadcast_SlowClientDrops(t *testing.T) {
	h := NewHub(nil, nil)
	c := &Client{id: "slow", send: make(chan []byte, 1), hub: h}
	h.register(c)

	h.Broadcast(sberExtr, []byte(`{}`))
	h.Broadcast(sberExtr, []byte(`{}`))
	if got := drain(c); len(got) != 1 || got[0].ChannelSeq != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestReplayRangeAndLatest(t *testing.T) {
	h := NewHub(nil, nil)
	for i := 0; i < 5; i++ {
		h.Broadcast(sberExtr, []byte(`{"n":`+string(rune('0'+i))+`}`))
	}
	h.Broadcast(sberTrend, []byte(`{}`))

	if h.ChannelSeq(sberExtr) != 5 || h.ChannelSeq(sberTrend) != 1 {
		t.Fatalf("seqs %d %d", h.ChannelSeq(sberExtr), h.ChannelSeq(sberTrend))
	}
	msgs := h.ReplayRange(sberExtr, 2, 4)
	if len(msgs) != 3 {
		t.Fatalf("replay %d, want 3", len(msgs))
	}
	var env wireEnvelope
	json.Unmarshal(msgs[0], &env)
	if env.ChannelSeq != 2 || string(env.Data) != `{"n":1}` {
		t.Errorf("first replayed = %+v", env)
	}
	if h.ReplayRange("pub:extr:D:NONE", 0, 10) != nil {
		t.Error("unknown channel replayed")
	}

	latest := h.LatestAll()
	if string(latest[sberExtr]) != `{"n":4}` || len(latest) != 2 {
		t.Errorf("latest = %v", latest)
	}
}

func TestRemoveClient(t *testing.T) {
	h := NewHub(nil, nil)
	c := fakeClient(h, Filter{})
	h.RemoveClient(c)
	h.RemoveClient(c)
	if h.ClientCount() != 0 {
		t.Errorf("count = %d", h.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel still open")
	}
	h.Broadcast(sberExtr, []byte(`{}`))
}

func TestClientHandle(t *testing.T) {
	h := NewHub(nil, nil)
	c := fakeClient(h, Filter{})

	reply := c.handle(clientMsg{Type: "SUBSCRIBE", Filter: Filter{Instruments: []string{"MOEX:SBER"}}})
	if !strings.Contains(string(reply), `"subscribed"`) {
		t.Errorf("reply = %s", reply)
	}
	if c.accepts(route{kind: "extr", instrument: "MOEX:GAZP"}) {
		t.Error("filter not applied")
	}
	c.handle(clientMsg{Type: "UNSUBSCRIBE"})
	if !c.accepts(route{kind: "extr", instrument: "MOEX:GAZP"}) {
		t.Error("filter not cleared")
	}
	if reply := c.handle(clientMsg{Ping: 123}); !strings.Contains(string(reply), `"pong"`) {
		t.Errorf("ping reply = %s", reply)
	}
	if c.handle(clientMsg{}) != nil {
		t.Error("empty message got a reply")
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	h := NewHub(nil, nil)
	h.Broadcast(sberTrend, []byte(`{"term":"T2"}`))

	mux := http.NewServeMux()
	RegisterRoutes(mux, h, nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// initial state
	var env wireEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if !env.Initial || env.Channel != sberTrend {
		t.Errorf("initial = %+v", env)
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "kinds": []string{"extr"}}); err != nil {
		t.Fatal(err)
	}
	var ack struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "subscribed" {
		t.Fatalf("ack = %+v, %v", ack, err)
	}

	h.Broadcast(sberTrend, []byte(`{"term":"T2"}`))
	h.Broadcast(sberExtr, []byte(`{"term":"T2"}`))
	var live wireEnvelope
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatal(err)
	}
	if live.Channel != sberExtr || live.Initial {
		t.Errorf("live = %+v", live)
	}
}
