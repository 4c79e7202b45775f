package model

import "encoding/json"

// ExtremumEvent announces a new historical extremum, or with Live set, a
// change of the pending one.
type ExtremumEvent struct {
	Instrument string    `json:"instrument"`
	TF         TimeFrame `json:"tf"`
	Term       string    `json:"term"` // "T1".."T5"
	Kind       string    `json:"kind"` // "Max" or "Min"
	TS         int64     `json:"ts"`
	Price      float64   `json:"price"`
	Live       bool      `json:"live"`
}

// StreamKey returns the Redis stream key: "extr:{term}:{tf}:{instrument}".
func (e *ExtremumEvent) StreamKey() string {
	return "extr:" + e.Term + ":" + string(e.TF) + ":" + e.Instrument
}

// LatestKey returns the key holding the most recent event of the stream.
func (e *ExtremumEvent) LatestKey() string {
	return "latest:" + e.StreamKey()
}

// Channel returns the pub/sub channel: "pub:extr:{tf}:{instrument}".
func (e *ExtremumEvent) Channel() string {
	return "pub:extr:" + string(e.TF) + ":" + e.Instrument
}

// JSON returns the JSON-encoded event.
func (e *ExtremumEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// TrendEvent announces a new historical trend, or with Live set, a change of
// the pending one.
type TrendEvent struct {
	Instrument string    `json:"instrument"`
	TF         TimeFrame `json:"tf"`
	Term       string    `json:"term"`
	Kind       string    `json:"kind"` // "Bull" or "Bear"
	BeginTS    int64     `json:"begin_ts"`
	BeginPrice float64   `json:"begin_price"`
	EndTS      int64     `json:"end_ts"`
	EndPrice   float64   `json:"end_price"`
	Len        uint32    `json:"len"`
	Vol        uint64    `json:"vol"`
	AbsP       float64   `json:"abs_p"`
	SpeedP     float64   `json:"speed_p"`
	Live       bool      `json:"live"`
}

// StreamKey returns the Redis stream key: "trend:{term}:{tf}:{instrument}".
func (e *TrendEvent) StreamKey() string {
	return "trend:" + e.Term + ":" + string(e.TF) + ":" + e.Instrument
}

// LatestKey returns the key holding the most recent event of the stream.
func (e *TrendEvent) LatestKey() string {
	return "latest:" + e.StreamKey()
}

// Channel returns the pub/sub channel: "pub:trend:{tf}:{instrument}".
func (e *TrendEvent) Channel() string {
	return "pub:trend:" + string(e.TF) + ":" + e.Instrument
}

// JSON returns the JSON-encoded event.
func (e *TrendEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// EventBatch groups the events produced by one chart update.
type EventBatch struct {
	Extrema []ExtremumEvent `json:"extrema,omitempty"`
	Trends  []TrendEvent    `json:"trends,omitempty"`
}

// Len returns the number of events in the batch.
func (b *EventBatch) Len() int { return len(b.Extrema) + len(b.Trends) }
