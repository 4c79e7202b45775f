package chart

import (
	"errors"
	"math"
	"testing"
	"time"

	"trendscope/internal/extremum"
	"trendscope/internal/model"
)

var series = model.Series{Instrument: "MOEX:SBER", TF: model.TFDay}

func minute(i int) int64 { return int64(i+1) * int64(time.Minute) }

func bar(i int, o, h, l, c float64) model.Bar {
	return model.Bar{TS: minute(i), Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func seedBars() []model.Bar {
	return []model.Bar{
		bar(0, 10, 11, 9, 10.5),
		bar(1, 10.5, 10.8, 8, 8.5),
		bar(2, 8.5, 12, 8.2, 11.5),
		bar(3, 11.5, 11.7, 9.5, 10),
	}
}

func TestNew_Validates(t *testing.T) {
	bars := seedBars()
	bars[2].TS = bars[1].TS
	if _, err := New(series, bars); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("duplicate ts: err = %v, want ErrOutOfOrder", err)
	}

	bars = seedBars()
	bars[1].Low = math.NaN()
	if _, err := New(series, bars); !errors.Is(err, model.ErrInvalidBar) {
		t.Errorf("nan low: err = %v, want ErrInvalidBar", err)
	}
}

func TestChart_Accessors(t *testing.T) {
	c, err := New(series, seedBars())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 4 {
		t.Fatalf("Len = %d", c.Len())
	}
	if b, _ := c.First(); b.TS != minute(0) {
		t.Errorf("First = %v", b)
	}
	if b, _ := c.Last(); b.TS != minute(3) {
		t.Errorf("Last = %v", b)
	}
	if b, ok := c.Bar(2); !ok || b.TS != minute(2) {
		t.Errorf("Bar(2) = %v, %v", b, ok)
	}
	if _, ok := c.Bar(5); ok {
		t.Error("Bar(5) should be out of range")
	}
	if _, ok := c.Now(); ok {
		t.Error("no now-bar yet")
	}
	if p, _ := c.LastPrice(); p != 10 {
		t.Errorf("LastPrice = %v, want last close", p)
	}
	if got := c.Select(minute(1), minute(2)); len(got) != 2 {
		t.Errorf("Select = %v", got)
	}
	if b, ok := c.BarAt(minute(2)); !ok || b.High != 12 {
		t.Errorf("BarAt = %v, %v", b, ok)
	}
	if _, ok := c.BarAt(minute(2) + 1); ok {
		t.Error("BarAt between bars should miss")
	}
}

func TestChart_AppendUpdatesDetector(t *testing.T) {
	bars := seedBars()
	c, _ := New(series, bars[:2])
	d := c.AttachDetector()

	for _, b := range bars[2:] {
		if _, err := c.Append(b); err != nil {
			t.Fatal(err)
		}
	}
	if d.LastTS() != minute(3) {
		t.Errorf("detector LastTS = %d", d.LastTS())
	}

	ref := extremum.New()
	ref.Init(bars)
	got, want := d.AllExtrema(extremum.T1), ref.AllExtrema(extremum.T1)
	if len(got) != len(want) {
		t.Fatalf("T1: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("T1[%d]: got %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := c.Append(bars[1]); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("stale append: err = %v", err)
	}
}

func TestChart_DetectorOnEmptyChart(t *testing.T) {
	c, _ := New(series, nil)
	d := c.AttachDetector()
	if d.Seeded() {
		t.Fatal("detector seeded from no bars")
	}
	st, err := c.Append(seedBars()[0])
	if err != nil {
		t.Fatal(err)
	}
	if !d.Seeded() || st.Bars != 1 {
		t.Errorf("first bar did not seed: stats %+v", st)
	}
	if _, ok := d.Extremum(extremum.T1, 0); !ok {
		t.Error("no pending extremum after first bar")
	}
}

func TestChart_AddBar(t *testing.T) {
	bars := seedBars()
	c, _ := New(series, bars[:2])
	d := c.AttachDetector()

	forming := bars[2]
	forming.High = 11.6
	if _, err := c.AddBar(forming); err != nil {
		t.Fatal(err)
	}
	if now, ok := c.Now(); !ok || now.High != 11.6 {
		t.Fatalf("Now = %v, %v", now, ok)
	}
	if c.Len() != 2 || d.LastTS() != minute(1) {
		t.Fatal("forming bar must not reach history")
	}

	// Same timestamp replaces the now-bar.
	c.AddBar(bars[2])
	if now, _ := c.Now(); now.High != 12 {
		t.Errorf("now-bar not replaced: %v", now)
	}
	if p, _ := c.LastPrice(); p != bars[2].Close {
		t.Errorf("LastPrice = %v, want now close", p)
	}

	// A newer bar finalizes the now-bar.
	c.AddBar(bars[3])
	if c.Len() != 3 || d.LastTS() != minute(2) {
		t.Errorf("now-bar not finalized: len %d, detector at %d", c.Len(), d.LastTS())
	}
	if last, _ := c.Last(); last.High != 12 {
		t.Errorf("finalized the wrong version: %v", last)
	}

	// Older bars are ignored.
	st, err := c.AddBar(bars[0])
	if err != nil || st.Bars != 0 || c.Len() != 3 {
		t.Errorf("old bar: stats %+v err %v len %d", st, err, c.Len())
	}

	// Appending the forming bar's final version drops the now-bar.
	if _, err := c.Append(bars[3]); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Now(); ok {
		t.Error("now-bar survived its finalization")
	}
}

func TestChart_AttachRestored(t *testing.T) {
	bars := seedBars()
	c, _ := New(series, bars)

	full := extremum.New()
	full.Init(bars)
	if err := c.AttachRestored(full); err != nil {
		t.Fatalf("matching detector rejected: %v", err)
	}

	behind := extremum.New()
	behind.Init(bars[:3])
	if err := c.AttachRestored(behind); err == nil {
		t.Error("detector behind the chart accepted")
	}
}

func TestChart_SetNow(t *testing.T) {
	c, err := New(series, seedBars())
	if err != nil {
		t.Fatal(err)
	}
	d := c.AttachDetector()
	lastTS := d.LastTS()

	if err := c.SetNow(bar(3, 1, 2, 1, 2)); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("stale SetNow: err = %v", err)
	}
	if err := c.SetNow(bar(4, 10, 10.2, 9.9, 10.1)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetNow(bar(5, 10, 10.4, 9.9, 10.3)); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 4 || d.LastTS() != lastTS {
		t.Errorf("SetNow finalized bars: len=%d lastTS=%d", c.Len(), d.LastTS())
	}
	if p, _ := c.LastPrice(); p != 10.3 {
		t.Errorf("LastPrice = %v, want 10.3", p)
	}

	// The finalized copy of an earlier bar drops nothing newer.
	if _, err := c.Append(bar(4, 10, 10.2, 9.9, 10.1)); err != nil {
		t.Fatal(err)
	}
	if now, ok := c.Now(); !ok || now.TS != minute(5) {
		t.Errorf("now = %v %v, want bar 5", now, ok)
	}
}
