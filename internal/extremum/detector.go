// Package extremum detects local extrema and the trends between them at
// five nested scales (terms). T1 extrema come from raw bars; each higher
// term is promoted from the historical extrema of the term below.
//
// A Detector is not safe for concurrent use. The engine owns one per chart
// and mutates it from a single goroutine.
package extremum

import (
	"fmt"
	"sort"

	"trendscope/internal/model"
)

// UpdateStats describes the work done by one Update call.
type UpdateStats struct {
	// Bars is the number of new bars consumed.
	Bars int
	// Depth is the number of levels whose history grew, 0..5, maximized
	// over the consumed bars.
	Depth int
}

// Detector holds the extrema and trends of all five terms for one bar
// series.
type Detector struct {
	levels [termCount]level
	lastTS int64
	seeded bool
}

// New returns an empty detector. Call Init before Update.
func New() *Detector {
	d := &Detector{}
	d.reset()
	return d
}

func (d *Detector) reset() {
	*d = Detector{}
	for _, t := range Terms {
		d.levels[t.Index()].term = t
	}
}

// Init discards all state and rebuilds every level from bars, which must
// be strictly increasing in TS with valid prices. An empty slice leaves the
// detector unseeded.
func (d *Detector) Init(bars []model.Bar) {
	d.reset()
	if len(bars) == 0 {
		return
	}
	for i := range bars {
		mustValid(bars[i])
		if i > 0 && bars[i].TS <= bars[i-1].TS {
			panic(fmt.Sprintf("extremum: bars not increasing at %d: ts %d after %d", i, bars[i].TS, bars[i-1].TS))
		}
	}

	first := &d.levels[0]
	first.seedFirst(bars[0])
	for _, b := range bars[1:] {
		first.advanceFirst(b)
	}
	for _, t := range Terms[1:] {
		lower := d.levels[t.Index()-1].extrema
		l := &d.levels[t.Index()]
		for i := range lower {
			l.promote(lower[:i+1])
		}
	}
	for i := range d.levels {
		d.levels[i].refreshTrends(bars)
	}
	d.lastTS = bars[len(bars)-1].TS
	d.seeded = true
}

// Update consumes the bars of history newer than the last one seen and
// cascades new extrema upward, stopping at the first level whose history
// did not grow. history must be the full bar history the detector was
// initialized from, extended with the new bars. Calling Update again with
// the same history is a no-op.
//
// Update panics if the detector is unseeded, if history ends before the
// last seen bar, or if a new bar is invalid or out of order.
func (d *Detector) Update(history []model.Bar) UpdateStats {
	var st UpdateStats
	if len(history) == 0 {
		return st
	}
	if !d.seeded {
		panic("extremum: Update before Init")
	}
	tail := history[len(history)-1].TS
	if tail == d.lastTS {
		return st
	}
	if tail < d.lastTS {
		panic(fmt.Sprintf("extremum: history ends at %d before last seen bar %d", tail, d.lastTS))
	}

	start := sort.Search(len(history), func(i int) bool { return history[i].TS > d.lastTS })
	if start == 0 {
		panic("extremum: Update needs the full bar history, not only the new bars")
	}
	prev := d.lastTS
	for _, b := range history[start:] {
		mustValid(b)
		if b.TS <= prev {
			panic(fmt.Sprintf("extremum: bar ts %d not after %d", b.TS, prev))
		}
		if depth := d.step(b); depth > st.Depth {
			st.Depth = depth
		}
		prev = b.TS
		st.Bars++
	}
	d.lastTS = prev

	for i := range d.levels {
		d.levels[i].refreshTrends(history)
	}
	return st
}

// step applies one bar and returns how many levels grew.
func (d *Detector) step(b model.Bar) int {
	if !d.levels[0].advanceFirst(b) {
		return 0
	}
	depth := 1
	for _, t := range Terms[1:] {
		if !d.levels[t.Index()].promote(d.levels[t.Index()-1].extrema) {
			break
		}
		depth++
	}
	return depth
}

func mustValid(b model.Bar) {
	if err := b.Validate(); err != nil {
		panic("extremum: " + err.Error())
	}
}

func (d *Detector) level(t Term) *level {
	if !t.Valid() {
		panic(fmt.Sprintf("extremum: invalid term %d", uint8(t)))
	}
	return &d.levels[t.Index()]
}

// Seeded reports whether Init has seen at least one bar.
func (d *Detector) Seeded() bool { return d.seeded }

// LastTS returns the timestamp of the last bar consumed.
func (d *Detector) LastTS() int64 { return d.lastTS }

// Extremum returns the n-th extremum of term t counting back from the
// newest: 0 is the pending extremum, 1 the newest historical one. ok is
// false when n is out of range.
func (d *Detector) Extremum(t Term, n int) (Extremum, bool) {
	l := d.level(t)
	if n == 0 {
		if l.pending == nil {
			return Extremum{}, false
		}
		return *l.pending, true
	}
	if n < 0 || n > len(l.extrema) {
		return Extremum{}, false
	}
	return l.extrema[len(l.extrema)-n], true
}

// Trend returns the n-th trend of term t, indexed like Extremum.
func (d *Detector) Trend(t Term, n int) (Trend, bool) {
	l := d.level(t)
	if n == 0 {
		if l.pendingTrend == nil {
			return Trend{}, false
		}
		return *l.pendingTrend, true
	}
	if n < 0 || n > len(l.trends) {
		return Trend{}, false
	}
	return l.trends[len(l.trends)-n], true
}

// AllExtrema returns the historical extrema of term t, oldest first. The
// slice is owned by the detector and must not be modified.
func (d *Detector) AllExtrema(t Term) []Extremum {
	e := d.level(t).extrema
	return e[:len(e):len(e)]
}

// AllTrends returns the historical trends of term t, oldest first. The
// slice is owned by the detector and must not be modified.
func (d *Detector) AllTrends(t Term) []Trend {
	tr := d.level(t).trends
	return tr[:len(tr):len(tr)]
}
