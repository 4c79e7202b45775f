package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidBar is returned when a bar carries a non-finite or negative
// price, or a high below its low.
var ErrInvalidBar = errors.New("invalid bar")

// Bar is one finalized OHLCV bar of a chart.
// TS is the bar open time in nanoseconds since the Unix epoch (UTC).
type Bar struct {
	TS     int64   `json:"ts" db:"ts"`
	Open   float64 `json:"o" db:"open"`
	High   float64 `json:"h" db:"high"`
	Low    float64 `json:"l" db:"low"`
	Close  float64 `json:"c" db:"close"`
	Volume uint64  `json:"v" db:"volume"`
}

// IsBull reports whether the bar closed above its open.
func (b Bar) IsBull() bool { return b.Open < b.Close }

// IsBear reports whether the bar closed below its open.
func (b Bar) IsBear() bool { return b.Open > b.Close }

// Time returns the bar open time.
func (b Bar) Time() time.Time { return time.Unix(0, b.TS).UTC() }

// Validate checks the price fields. It does not check ordering against
// other bars.
func (b Bar) Validate() error {
	for _, p := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("%w: price %v at ts=%d", ErrInvalidBar, p, b.TS)
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %v below low %v at ts=%d", ErrInvalidBar, b.High, b.Low, b.TS)
	}
	return nil
}

func (b Bar) String() string {
	return fmt.Sprintf("Bar{%s o=%v h=%v l=%v c=%v v=%d}",
		b.Time().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}

// BarMessage is the payload of a bar stream entry.
type BarMessage struct {
	Instrument string    `json:"instrument"` // "exchange:ticker"
	TF         TimeFrame `json:"tf"`
	Bar        Bar       `json:"bar"`
	// Live marks a forming bar. Forming bars replace the chart's now-bar
	// and never reach the detector.
	Live bool `json:"live,omitempty"`
}

// Series returns the chart key of the message.
func (m *BarMessage) Series() Series {
	return Series{Instrument: m.Instrument, TF: m.TF}
}

// JSON returns the JSON-encoded message.
func (m *BarMessage) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}
