// Package tfbuilder resamples finalized bars of one timeframe into longer
// ones. Each source bar updates the forming bar of every target timeframe in
// O(1); when a source bar lands in a new bucket the previous bar of that
// timeframe is finalized and emitted.
package tfbuilder

import (
	"context"
	"log"
	"time"

	"trendscope/internal/model"
)

// tfState holds the forming bar for one (instrument, TF) pair.
type tfState struct {
	bucket int64 // bucket start, ns
	bar    model.Bar
}

// Builder resamples bars into multiple longer timeframes.
// Not goroutine-safe: designed to run in a single goroutine.
type Builder struct {
	tfs []model.TimeFrame

	// states[tfIdx][instrument]
	states []map[string]*tfState

	// StaleTolerance rejects source bars whose bucket lags the forming
	// bucket by more than this. Zero rejects any lag.
	StaleTolerance time.Duration

	// Metrics hooks
	OnBar   func(m model.BarMessage) // called on every finalized bar (optional)
	OnStale func()                   // called when a stale bar is rejected (optional)
}

// New creates a builder for the given target timeframes.
func New(tfs []model.TimeFrame) *Builder {
	states := make([]map[string]*tfState, len(tfs))
	for i := range states {
		states[i] = make(map[string]*tfState, 64)
	}
	return &Builder{tfs: tfs, states: states}
}

// TFs returns the target timeframes.
func (b *Builder) TFs() []model.TimeFrame { return b.tfs }

// Process folds one finalized source bar into every target timeframe and
// returns the resulting messages: a finalized bar for each bucket that
// closed, followed by the updated forming bar (Live set).
func (b *Builder) Process(src model.BarMessage) []model.BarMessage {
	var out []model.BarMessage
	for i, tf := range b.tfs {
		bucket := BucketStart(tf, src.Bar.TS)
		st, exists := b.states[i][src.Instrument]

		if exists && bucket < st.bucket {
			if lag := time.Duration(st.bucket - bucket); lag > b.StaleTolerance {
				if b.OnStale != nil {
					b.OnStale()
				}
				continue
			}
			// Within tolerance: fold into the forming bar.
			bucket = st.bucket
		}

		if exists && bucket > st.bucket {
			// New bucket: finalize the forming bar
			fin := model.BarMessage{Instrument: src.Instrument, TF: tf, Bar: st.bar}
			out = append(out, fin)
			if b.OnBar != nil {
				b.OnBar(fin)
			}
			exists = false
		}

		if !exists {
			nb := src.Bar
			nb.TS = bucket
			st = &tfState{bucket: bucket, bar: nb}
			b.states[i][src.Instrument] = st
		} else {
			merge(&st.bar, src.Bar)
		}
		out = append(out, model.BarMessage{Instrument: src.Instrument, TF: tf, Bar: st.bar, Live: true})
	}
	return out
}

func merge(dst *model.Bar, src model.Bar) {
	if src.High > dst.High {
		dst.High = src.High
	}
	if src.Low < dst.Low {
		dst.Low = src.Low
	}
	dst.Close = src.Close
	dst.Volume += src.Volume
}

// Flush finalizes and returns all forming bars, leaving the builder empty.
func (b *Builder) Flush() []model.BarMessage {
	var out []model.BarMessage
	for i, tf := range b.tfs {
		for inst, st := range b.states[i] {
			fin := model.BarMessage{Instrument: inst, TF: tf, Bar: st.bar}
			out = append(out, fin)
			if b.OnBar != nil {
				b.OnBar(fin)
			}
			delete(b.states[i], inst)
		}
	}
	return out
}

// Run consumes source bars from in and sends resampled bars to out until
// ctx is cancelled or in is closed; forming bars are flushed as final.
func (b *Builder) Run(ctx context.Context, in <-chan model.BarMessage, out chan<- model.BarMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				for _, f := range b.Flush() {
					emit(ctx, out, f)
				}
				return
			}
			for _, r := range b.Process(m) {
				emit(ctx, out, r)
			}
		}
	}
}

// emit blocks for finalized bars and drops forming ones when out is full.
func emit(ctx context.Context, out chan<- model.BarMessage, m model.BarMessage) {
	if m.Live {
		select {
		case out <- m:
		default:
			log.Printf("[tfbuilder] out full, dropping forming bar %s ts=%d", m.Series(), m.Bar.TS)
		}
		return
	}
	select {
	case out <- m:
	case <-ctx.Done():
	}
}

// BucketStart returns the open time (ns, UTC) of the tf bar containing ts.
// Weeks start on Monday; months on the first day of the calendar month.
func BucketStart(tf model.TimeFrame, ts int64) int64 {
	switch tf {
	case model.TFWeek:
		t := time.Unix(0, ts).UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		back := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -back).UnixNano()
	case model.TFMonth:
		t := time.Unix(0, ts).UTC()
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).UnixNano()
	}
	d := int64(tf.Duration())
	if d <= 0 {
		return ts
	}
	r := ts % d
	if r < 0 {
		r += d
	}
	return ts - r
}
