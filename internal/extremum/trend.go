package extremum

import (
	"fmt"
	"math"
	"time"

	"trendscope/internal/model"
)

// TrendKind is the direction of a trend.
type TrendKind uint8

const (
	Bull TrendKind = iota + 1
	Bear
)

func (k TrendKind) String() string {
	switch k {
	case Bull:
		return "Bull"
	case Bear:
		return "Bear"
	}
	return fmt.Sprintf("TrendKind(%d)", uint8(k))
}

func (k TrendKind) MarshalText() ([]byte, error) {
	if k != Bull && k != Bear {
		return nil, fmt.Errorf("extremum: invalid trend kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *TrendKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Bull":
		*k = Bull
	case "Bear":
		*k = Bear
	default:
		return fmt.Errorf("extremum: unknown trend kind %q", b)
	}
	return nil
}

// Trend is the move between two consecutive extrema of one term. Len and
// Vol aggregate the raw bars from Begin to End, both endpoint bars
// included.
type Trend struct {
	Begin Extremum  `json:"begin"`
	End   Extremum  `json:"end"`
	Len   uint32    `json:"len"`
	Vol   uint64    `json:"vol"`
	Kind  TrendKind `json:"kind"`
}

// NewTrend builds the trend from begin to end over history, the full bar
// history of the chart. It panics if begin is not strictly before end or if
// history does not cover the range.
func NewTrend(begin, end Extremum, history []model.Bar) Trend {
	if begin.TS >= end.TS {
		panic(fmt.Sprintf("extremum: trend begin %d not before end %d", begin.TS, end.TS))
	}
	lo, okLo := model.BisectRight(history, begin.TS)
	hi, okHi := model.BisectLeft(history, end.TS)
	if !okLo || !okHi || hi < lo {
		panic(fmt.Sprintf("extremum: bar history does not cover trend %d..%d", begin.TS, end.TS))
	}

	t := Trend{Begin: begin, End: end, Len: uint32(hi - lo + 1), Kind: Bear}
	for _, b := range history[lo : hi+1] {
		t.Vol += b.Volume
	}
	if begin.Price < end.Price {
		t.Kind = Bull
	}
	return t
}

// Term returns the shorter of the endpoint terms.
func (t Trend) Term() Term { return min(t.Begin.Term, t.End.Term) }

func (t Trend) IsBull() bool { return t.Kind == Bull }
func (t Trend) IsBear() bool { return t.Kind == Bear }

// Abs is the absolute price change.
func (t Trend) Abs() float64 { return math.Abs(t.End.Price - t.Begin.Price) }

// AbsN is the price change as a fraction of the begin price.
func (t Trend) AbsN() float64 {
	if t.Begin.Price == 0 {
		return 0
	}
	return t.Abs() / t.Begin.Price
}

// AbsP is the price change in percent of the begin price, rounded to two
// decimals.
func (t Trend) AbsP() float64 { return round2(t.AbsN() * 100) }

// Speed is the absolute price change per bar.
func (t Trend) Speed() float64 { return t.Abs() / float64(t.Len) }

// SpeedN is the normalized change per bar.
func (t Trend) SpeedN() float64 { return t.AbsN() / float64(t.Len) }

// SpeedP is the percent change per bar, rounded to two decimals. The
// division uses the unrounded percentage.
func (t Trend) SpeedP() float64 { return round2(t.AbsN() * 100 / float64(t.Len)) }

func (t Trend) String() string {
	return fmt.Sprintf("Trend{%s %s %s..%s len=%d vol=%d abs=%v%%}",
		t.Term(), t.Kind,
		t.Begin.Time().Format(time.RFC3339), t.End.Time().Format(time.RFC3339),
		t.Len, t.Vol, t.AbsP())
}
