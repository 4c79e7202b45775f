package extremum

import (
	"math"
	"strings"
	"testing"
	"time"

	"trendscope/internal/model"
)

func hour(i int) int64 { return int64(i+1) * int64(time.Hour) }

// ladderBars produces one T1 turning point per bar:
//
//	T1: Max 10, Min 5, Max 12, Min 7, Max 11, Min 3, Max 8, pending Min 6
//	T2: Max 12, pending Min 3
//	T3: pending Max 12
func ladderBars() []model.Bar {
	return []model.Bar{
		{TS: hour(0), Open: 9.2, High: 10, Low: 9, Close: 9.8, Volume: 10},
		hl(hour(1), 9.5, 5),
		hl(hour(2), 12, 6),
		hl(hour(3), 11.5, 7),
		hl(hour(4), 11, 8),
		hl(hour(5), 10, 3),
		hl(hour(6), 8, 4),
		hl(hour(7), 7.5, 6),
	}
}

// ────────────────────────────────────────────────────────────────
// Level derivation
// ────────────────────────────────────────────────────────────────

func TestLadder_T1(t *testing.T) {
	d := New()
	d.Init(ladderBars())

	prices := []float64{10, 5, 12, 7, 11, 3, 8}
	got := d.AllExtrema(T1)
	if len(got) != len(prices) {
		t.Fatalf("T1 history: got %d, want %d", len(got), len(prices))
	}
	for i, p := range prices {
		wantKind := Max
		if i%2 == 1 {
			wantKind = Min
		}
		if got[i].Price != p || got[i].Kind != wantKind || got[i].TS != hour(i) {
			t.Errorf("T1[%d]: got %v, want %s %v at bar %d", i, got[i], wantKind, p, i)
		}
	}
	p := mustExtremum(t, d, T1, 0)
	if p.Kind != Min || p.Price != 6 || p.TS != hour(7) {
		t.Errorf("T1 pending: got %v", p)
	}
}

func TestLadder_T2PromotesStrongestOfKind(t *testing.T) {
	d := New()
	d.Init(ladderBars())

	hist := d.AllExtrema(T2)
	if len(hist) != 1 {
		t.Fatalf("T2 history: got %v, want one entry", hist)
	}
	want := Extremum{TS: hour(2), Term: T2, Kind: Max, Price: 12}
	if hist[0] != want {
		t.Errorf("T2[0]: got %v, want %v", hist[0], want)
	}
	pending := mustExtremum(t, d, T2, 0)
	if pending != (Extremum{TS: hour(5), Term: T2, Kind: Min, Price: 3}) {
		t.Errorf("T2 pending: got %v", pending)
	}

	// Promotion copies; the T1 source entries keep their own term.
	for _, e := range d.AllExtrema(T1) {
		if e.Term != T1 {
			t.Fatalf("T1 entry retagged: %v", e)
		}
	}

	tr := mustTrend(t, d, T2, 0)
	if tr.Kind != Bear || tr.Len != 4 || tr.Vol != 40 {
		t.Errorf("T2 pending trend: got %v", tr)
	}
	assertClose(t, "abs_p", tr.AbsP(), 75)
	assertClose(t, "speed_p", tr.SpeedP(), 18.75)

	t3 := mustExtremum(t, d, T3, 0)
	if t3 != (Extremum{TS: hour(2), Term: T3, Kind: Max, Price: 12}) {
		t.Errorf("T3 pending: got %v", t3)
	}
	if len(d.AllExtrema(T3)) != 0 {
		t.Error("T3 should have no history")
	}
	if _, ok := d.Extremum(T4, 0); ok {
		t.Error("T4 should be empty")
	}
}

// ────────────────────────────────────────────────────────────────
// Cascade
// ────────────────────────────────────────────────────────────────

func TestCascade_ExtensionTouchesOnlyT1(t *testing.T) {
	bars := ladderBars()
	d := New()
	d.Init(bars)
	before := state(d)

	bars = append(bars, hl(hour(8), 7, 5.5))
	st := d.Update(bars)
	if st.Bars != 1 || st.Depth != 0 {
		t.Errorf("stats = %+v, want 1 bar, depth 0", st)
	}
	after := state(d)

	for i := range after.Levels {
		if len(after.Levels[i].Extrema) != len(before.Levels[i].Extrema) {
			t.Errorf("%s history changed on an extension bar", Terms[i])
		}
	}
	for i := 1; i < termCount; i++ {
		b, a := before.Levels[i], after.Levels[i]
		if (b.Pending == nil) != (a.Pending == nil) || (a.Pending != nil && *a.Pending != *b.Pending) {
			t.Errorf("%s pending changed: %v -> %v", Terms[i], b.Pending, a.Pending)
		}
	}
	p := mustExtremum(t, d, T1, 0)
	if p.Price != 5.5 || p.TS != hour(8) {
		t.Errorf("T1 pending not extended: %v", p)
	}
	tr := mustTrend(t, d, T1, 0)
	if tr.End != p || tr.Len != 3 {
		t.Errorf("T1 pending trend not rebuilt: %v", tr)
	}
}

func TestCascade_Depth(t *testing.T) {
	bars := append(ladderBars(), hl(hour(8), 9, 6.5))
	d := New()
	d.Init(bars[:8])

	st := d.Update(bars)
	if st.Depth != 2 {
		t.Fatalf("depth = %d, want 2", st.Depth)
	}

	t2 := d.AllExtrema(T2)
	if len(t2) != 2 || t2[1] != (Extremum{TS: hour(5), Term: T2, Kind: Min, Price: 3}) {
		t.Fatalf("T2 history: %v", t2)
	}
	if p := mustExtremum(t, d, T2, 0); p != (Extremum{TS: hour(6), Term: T2, Kind: Max, Price: 8}) {
		t.Errorf("T2 pending: %v", p)
	}
	if tr := mustTrend(t, d, T2, 1); tr.Begin.Price != 12 || tr.End.Price != 3 || tr.Len != 4 {
		t.Errorf("T2 trend: %v", tr)
	}
	if tr := mustTrend(t, d, T2, 0); tr.Kind != Bull || tr.Len != 2 {
		t.Errorf("T2 pending trend: %v", tr)
	}
	if len(d.AllExtrema(T3)) != 0 {
		t.Error("T3 must not grow: its lower entry has the opposite kind")
	}

	batch := New()
	batch.Init(bars)
	assertSameState(t, d, batch)
}

func TestEqualPriceFinalizes(t *testing.T) {
	bars := []model.Bar{
		{TS: hour(0), Open: 9, High: 10, Low: 9, Close: 10},
		{TS: hour(1), Open: 10, High: 10, Low: 8, Close: 9},
		{TS: hour(2), Open: 9, High: 9.5, Low: 8, Close: 9.5},
	}
	d := New()
	d.Init(bars)

	hist := d.AllExtrema(T1)
	if len(hist) != 2 {
		t.Fatalf("T1 history: %v, want Max 10 then Min 8", hist)
	}
	if hist[0].Price != 10 || hist[0].TS != hour(0) {
		t.Errorf("equal high must not extend the max: %v", hist[0])
	}
	if hist[1].Price != 8 || hist[1].TS != hour(1) {
		t.Errorf("equal low must not extend the min: %v", hist[1])
	}
}

// ────────────────────────────────────────────────────────────────
// Seeding
// ────────────────────────────────────────────────────────────────

func TestInit_Empty(t *testing.T) {
	d := New()
	d.Init(nil)
	if d.Seeded() {
		t.Fatal("empty init must not seed")
	}
	for _, term := range Terms {
		if _, ok := d.Extremum(term, 0); ok {
			t.Errorf("%s: pending on empty detector", term)
		}
		if len(d.AllExtrema(term)) != 0 || len(d.AllTrends(term)) != 0 {
			t.Errorf("%s: history on empty detector", term)
		}
	}
	// Empty update is a no-op even when unseeded.
	if st := d.Update(nil); st.Bars != 0 {
		t.Errorf("empty update consumed %d bars", st.Bars)
	}
}

func TestInit_SingleBar(t *testing.T) {
	cases := []struct {
		name  string
		bar   model.Bar
		kind  Kind
		price float64
	}{
		{"bull", model.Bar{TS: 1, Open: 10, High: 12, Low: 9, Close: 11}, Max, 12},
		{"bear", model.Bar{TS: 1, Open: 11, High: 12, Low: 9, Close: 10}, Min, 9},
		{"doji", model.Bar{TS: 1, Open: 10, High: 12, Low: 9, Close: 10}, Min, 9},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := New()
			d.Init([]model.Bar{c.bar})
			p := mustExtremum(t, d, T1, 0)
			if p.Kind != c.kind || p.Price != c.price || p.Term != T1 {
				t.Errorf("pending: got %v, want %s %v", p, c.kind, c.price)
			}
			if len(d.AllExtrema(T1)) != 0 {
				t.Error("single bar must not finalize anything")
			}
			if d.LastTS() != 1 {
				t.Errorf("LastTS = %d", d.LastTS())
			}
		})
	}
}

func TestUpdate_FromSingleBarSeed(t *testing.T) {
	bars := ladderBars()
	d := New()
	d.Init(bars[:1])
	for i := 2; i <= len(bars); i++ {
		d.Update(bars[:i])
	}
	batch := New()
	batch.Init(bars)
	assertSameState(t, d, batch)
}

// ────────────────────────────────────────────────────────────────
// Update contract
// ────────────────────────────────────────────────────────────────

func TestUpdate_Idempotent(t *testing.T) {
	bars := dailyBars()
	d := New()
	d.Init(bars[:4])
	d.Update(bars)
	before := state(d)

	if st := d.Update(bars); st.Bars != 0 || st.Depth != 0 {
		t.Errorf("repeat update stats = %+v", st)
	}
	if st := d.Update(nil); st.Bars != 0 {
		t.Errorf("empty update stats = %+v", st)
	}
	after := state(d)
	ref := New()
	ref.Init(bars)
	assertSameState(t, d, ref)
	if after.LastTS != before.LastTS {
		t.Errorf("LastTS moved on a repeated update")
	}
}

func TestUpdate_Panics(t *testing.T) {
	bars := dailyBars()

	cases := []struct {
		name string
		run  func()
		msg  string
	}{
		{"before init", func() { New().Update(bars) }, "before Init"},
		{"history shrinks", func() {
			d := New()
			d.Init(bars)
			d.Update(bars[:3])
		}, "before last seen"},
		{"only new bars", func() {
			d := New()
			d.Init(bars[:3])
			d.Update(bars[3:])
		}, "full bar history"},
		{"out of order", func() {
			d := New()
			d.Init(bars[:3])
			bad := append(append([]model.Bar(nil), bars[:3]...), bars[5], bars[4])
			d.Update(bad)
		}, "not after"},
		{"nan price", func() {
			d := New()
			d.Init(bars[:3])
			b := bars[3]
			b.High = math.NaN()
			d.Update(append(append([]model.Bar(nil), bars[:3]...), b))
		}, "invalid bar"},
		{"init out of order", func() {
			New().Init([]model.Bar{bars[1], bars[0]})
		}, "not increasing"},
		{"invalid term", func() { New().Extremum(Term(9), 0) }, "invalid term"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic")
				}
				if msg, _ := r.(string); !strings.Contains(msg, c.msg) {
					t.Errorf("panic %q does not mention %q", r, c.msg)
				}
			}()
			c.run()
		})
	}
}

func TestAccessors_OutOfRange(t *testing.T) {
	d := New()
	d.Init(dailyBars())
	for _, n := range []int{-1, 5, 100} {
		if _, ok := d.Extremum(T1, n); ok {
			t.Errorf("Extremum(T1, %d) should fail", n)
		}
		if _, ok := d.Trend(T1, n); ok {
			t.Errorf("Trend(T1, %d) should fail", n)
		}
	}
}
