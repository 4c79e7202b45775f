package extremum

import (
	"math/rand"
	"testing"

	"trendscope/internal/model"
)

var walkSeeds = []int64{1, 7, 42}

const walkLen = 3000

// ────────────────────────────────────────────────────────────────
// Batch vs incremental
// ────────────────────────────────────────────────────────────────

func TestBatchIncremental_BarByBar(t *testing.T) {
	for _, seed := range walkSeeds {
		bars := randomWalk(seed, walkLen)

		inc := New()
		inc.Init(bars[:1])
		for i := 2; i <= len(bars); i++ {
			inc.Update(bars[:i])
		}

		batch := New()
		batch.Init(bars)
		assertSameState(t, inc, batch)
	}
}

func TestBatchIncremental_Chunked(t *testing.T) {
	for _, seed := range walkSeeds {
		bars := randomWalk(seed, walkLen)
		rng := rand.New(rand.NewSource(seed))

		inc := New()
		end := 1 + rng.Intn(50)
		inc.Init(bars[:end])
		for end < len(bars) {
			end += 1 + rng.Intn(40)
			if end > len(bars) {
				end = len(bars)
			}
			inc.Update(bars[:end])
		}

		batch := New()
		batch.Init(bars)
		assertSameState(t, inc, batch)
	}
}

func TestBatch_PrefixesMatch(t *testing.T) {
	// Every prefix length seeded in batch equals the incremental state
	// reached at that length.
	bars := randomWalk(3, 400)
	inc := New()
	inc.Init(bars[:1])
	for i := 2; i <= len(bars); i += 37 {
		inc.Update(bars[:i])
		batch := New()
		batch.Init(bars[:i])
		assertSameState(t, inc, batch)
	}
}

// ────────────────────────────────────────────────────────────────
// Structural invariants
// ────────────────────────────────────────────────────────────────

func TestInvariants_RandomWalk(t *testing.T) {
	for _, seed := range walkSeeds {
		bars := randomWalk(seed, walkLen)
		d := New()
		d.Init(bars)

		if len(d.AllExtrema(T3)) == 0 {
			t.Fatalf("seed %d: walk too short to exercise T3", seed)
		}
		for _, term := range Terms {
			checkLevel(t, d, term, bars)
		}
	}
}

func checkLevel(t *testing.T, d *Detector, term Term, bars []model.Bar) {
	t.Helper()
	hist := d.AllExtrema(term)

	for i, e := range hist {
		if e.Term != term {
			t.Fatalf("%s[%d] tagged %s", term, i, e.Term)
		}
		if i == 0 {
			continue
		}
		if e.Kind == hist[i-1].Kind {
			t.Fatalf("%s[%d]: %s follows %s", term, i, e.Kind, hist[i-1].Kind)
		}
		if e.TS <= hist[i-1].TS {
			t.Fatalf("%s[%d]: ts %d not after %d", term, i, e.TS, hist[i-1].TS)
		}
	}

	// Every higher-term extremum is a copy of a lower-term historical one.
	if term > T1 {
		type key struct {
			ts    int64
			kind  Kind
			price float64
		}
		lower := make(map[key]bool)
		for _, e := range d.AllExtrema(term - 1) {
			lower[key{e.TS, e.Kind, e.Price}] = true
		}
		seq := hist
		if p, ok := d.Extremum(term, 0); ok {
			seq = append(append([]Extremum(nil), hist...), p)
		}
		for _, e := range seq {
			if !lower[key{e.TS, e.Kind, e.Price}] {
				t.Fatalf("%s entry %v not found in %s history", term, e, term-1)
			}
		}
	}

	trends := d.AllTrends(term)
	wantTrends := len(hist) - 1
	if wantTrends < 0 {
		wantTrends = 0
	}
	if len(trends) != wantTrends {
		t.Fatalf("%s: %d trends for %d extrema", term, len(trends), len(hist))
	}
	for i, tr := range trends {
		if tr.Begin != hist[i] || tr.End != hist[i+1] {
			t.Fatalf("%s trend %d does not join consecutive extrema", term, i)
		}
		if tr.Term() != term {
			t.Fatalf("%s trend %d reports term %s", term, i, tr.Term())
		}
		checkTrendAggregates(t, tr, bars)
	}
	if pt, ok := d.Trend(term, 0); ok {
		p, _ := d.Extremum(term, 0)
		if pt.Begin != hist[len(hist)-1] || pt.End != p {
			t.Fatalf("%s pending trend %v is stale", term, pt)
		}
		checkTrendAggregates(t, pt, bars)
	}
}

// checkTrendAggregates recomputes len, vol and kind with a linear scan.
func checkTrendAggregates(t *testing.T, tr Trend, bars []model.Bar) {
	t.Helper()
	var n uint32
	var vol uint64
	for _, b := range bars {
		if b.TS >= tr.Begin.TS && b.TS <= tr.End.TS {
			n++
			vol += b.Volume
		}
	}
	if tr.Len != n || tr.Vol != vol {
		t.Fatalf("trend %v: len/vol %d/%d, scan gives %d/%d", tr, tr.Len, tr.Vol, n, vol)
	}
	wantKind := Bear
	if tr.Begin.Price < tr.End.Price {
		wantKind = Bull
	}
	if tr.Kind != wantKind {
		t.Fatalf("trend %v: kind %s, want %s", tr, tr.Kind, wantKind)
	}
	if tr.Len < 2 {
		t.Fatalf("trend %v spans fewer than two bars", tr)
	}
}
