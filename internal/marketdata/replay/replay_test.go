package replay

import (
	"context"
	"testing"
	"time"

	"trendscope/internal/model"
)

type memReader map[model.Series][]model.Bar

func (m memReader) ReadBars(_ context.Context, s model.Series, from, till int64) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range m[s] {
		if b.TS >= from && b.TS <= till {
			out = append(out, b)
		}
	}
	return out, nil
}

func bar(ts int64) model.Bar {
	return model.Bar{TS: ts, Open: 1, High: 2, Low: 1, Close: 2}
}

func TestRun_InterleavesSeriesByTime(t *testing.T) {
	a := model.Series{Instrument: "MOEX:SBER", TF: model.TF1H}
	b := model.Series{Instrument: "MOEX:GAZP", TF: model.TF1H}
	r := New(memReader{
		a: {bar(1), bar(3), bar(5)},
		b: {bar(2), bar(3), bar(4)},
	})
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out := make(chan model.BarMessage, 16)
	n, err := r.Run(context.Background(), []model.Series{a, b}, 0, 4, 2, out)
	if err != nil {
		t.Fatal(err)
	}
	close(out)
	if n != 5 {
		t.Fatalf("emitted %d, want 5", n)
	}

	var got []string
	for m := range out {
		got = append(got, m.Instrument[5:]+string(rune('0'+m.Bar.TS)))
	}
	want := []string{"SBER1", "GAZP2", "SBER3", "GAZP3", "GAZP4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	// gaps of 1ns at 2x round down to zero; equal ts never sleeps
	if len(slept) != 3 {
		t.Errorf("slept %d times, want 3", len(slept))
	}
}

func TestRun_CapsGap(t *testing.T) {
	s := model.Series{Instrument: "X", TF: model.TFDay}
	day := int64(24 * time.Hour)
	r := New(memReader{s: {bar(0), bar(day)}})
	var slept time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error { slept = d; return nil }

	out := make(chan model.BarMessage, 2)
	if _, err := r.Run(context.Background(), []model.Series{s}, 0, day, 1, out); err != nil {
		t.Fatal(err)
	}
	if slept != maxGap {
		t.Errorf("slept %v, want %v", slept, maxGap)
	}
}

func TestRun_Cancelled(t *testing.T) {
	s := model.Series{Instrument: "X", TF: model.TFDay}
	r := New(memReader{s: {bar(1), bar(2)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := r.Run(ctx, []model.Series{s}, 0, 10, 0, make(chan model.BarMessage))
	if err == nil || n != 0 {
		t.Errorf("n=%d err=%v", n, err)
	}
}
