package model

import (
	"fmt"
	"strings"
)

// Instrument identifies a tradeable symbol on an exchange.
type Instrument struct {
	Exchange string `json:"exchange"`
	Ticker   string `json:"ticker"`
}

// Key returns a unique key for this instrument: "exchange:ticker".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Ticker
}

func (i Instrument) String() string { return i.Key() }

// ParseInstrument parses an "exchange:ticker" key.
func ParseInstrument(key string) (Instrument, error) {
	exch, ticker, ok := strings.Cut(key, ":")
	if !ok || exch == "" || ticker == "" || strings.Contains(ticker, ":") {
		return Instrument{}, fmt.Errorf("model: bad instrument key %q", key)
	}
	return Instrument{Exchange: exch, Ticker: ticker}, nil
}

// Series identifies one chart: an instrument key and a timeframe.
type Series struct {
	Instrument string    `json:"instrument" db:"instrument"`
	TF         TimeFrame `json:"tf" db:"tf"`
}

func (s Series) String() string { return string(s.TF) + ":" + s.Instrument }

// BarStreamKey returns the Redis stream carrying the series' bars:
// "bar:{tf}:{exchange}:{ticker}".
func (s Series) BarStreamKey() string {
	return "bar:" + s.String()
}

// ParseBarStreamKey is the inverse of Series.BarStreamKey.
func ParseBarStreamKey(key string) (Series, error) {
	rest, ok := strings.CutPrefix(key, "bar:")
	if !ok {
		return Series{}, fmt.Errorf("model: not a bar stream %q", key)
	}
	tf, instr, ok := strings.Cut(rest, ":")
	if !ok {
		return Series{}, fmt.Errorf("model: bad bar stream %q", key)
	}
	frame, err := ParseTimeFrame(tf)
	if err != nil {
		return Series{}, err
	}
	if _, err := ParseInstrument(instr); err != nil {
		return Series{}, err
	}
	return Series{Instrument: instr, TF: frame}, nil
}
