package extremum

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"trendscope/internal/model"
)

const tolerance = 1e-9

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Errorf("%s: got %.10f, want %.10f", label, got, want)
	}
}

func day(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixNano()
}

func mustExtremum(t *testing.T, d *Detector, term Term, n int) Extremum {
	t.Helper()
	e, ok := d.Extremum(term, n)
	if !ok {
		t.Fatalf("Extremum(%s, %d): not found", term, n)
	}
	return e
}

func mustTrend(t *testing.T, d *Detector, term Term, n int) Trend {
	t.Helper()
	tr, ok := d.Trend(term, n)
	if !ok {
		t.Fatalf("Trend(%s, %d): not found", term, n)
	}
	return tr
}

// state snapshots d with the creation time zeroed so two detectors can be
// compared with reflect.DeepEqual.
func state(d *Detector) *Snapshot {
	s := d.Snapshot()
	s.CreatedAt = time.Time{}
	return s
}

// hl builds a bar from its high and low. The open and close sit at the
// midpoint, so the bar is neither bull nor bear.
func hl(ts int64, high, low float64) model.Bar {
	mid := (high + low) / 2
	return model.Bar{TS: ts, Open: mid, High: high, Low: low, Close: mid, Volume: 10}
}

// randomWalk returns n bars of a seeded random walk starting at 100.
func randomWalk(seed int64, n int) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]model.Bar, n)
	price := 100.0
	ts := int64(1_700_000_000) * int64(time.Second)
	for i := range bars {
		open := price
		// Round to cents so equal highs and lows actually occur.
		cl := math.Round((open+rng.NormFloat64())*100) / 100
		if cl < 1 {
			cl = 1
		}
		high := math.Round((math.Max(open, cl)+rng.Float64())*100) / 100
		low := math.Round((math.Min(open, cl)-rng.Float64())*100) / 100
		if low < 0.5 {
			low = 0.5
		}
		bars[i] = model.Bar{
			TS: ts, Open: open, High: high, Low: low, Close: cl,
			Volume: uint64(100 + rng.Intn(900)),
		}
		price = cl
		ts += int64(time.Minute)
	}
	return bars
}

func assertSameState(t *testing.T, got, want *Detector) {
	t.Helper()
	gs, ws := state(got), state(want)
	if reflect.DeepEqual(gs, ws) {
		return
	}
	if gs.LastTS != ws.LastTS || gs.Seeded != ws.Seeded {
		t.Errorf("header: got seeded=%v last=%d, want seeded=%v last=%d", gs.Seeded, gs.LastTS, ws.Seeded, ws.LastTS)
	}
	for i := range ws.Levels {
		g, w := gs.Levels[i], ws.Levels[i]
		if !reflect.DeepEqual(g.Extrema, w.Extrema) {
			t.Errorf("%s extrema: got %d %v, want %d %v", Terms[i], len(g.Extrema), g.Extrema, len(w.Extrema), w.Extrema)
		}
		if !reflect.DeepEqual(g.Pending, w.Pending) {
			t.Errorf("%s pending: got %v, want %v", Terms[i], g.Pending, w.Pending)
		}
		if !reflect.DeepEqual(g.Trends, w.Trends) {
			t.Errorf("%s trends differ: got %d, want %d", Terms[i], len(g.Trends), len(w.Trends))
		}
		if !reflect.DeepEqual(g.PendingTrend, w.PendingTrend) {
			t.Errorf("%s pending trend: got %v, want %v", Terms[i], g.PendingTrend, w.PendingTrend)
		}
	}
	t.FailNow()
}
