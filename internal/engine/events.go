package engine

import (
	"trendscope/internal/extremum"
	"trendscope/internal/model"
)

// Mark records what a detector had emitted before a bar was applied.
type Mark struct {
	extrema [len(extremum.Terms)]int
	trends  [len(extremum.Terms)]int
	pending [len(extremum.Terms)]optExtremum
	pendTr  [len(extremum.Terms)]optTrend
}

type optExtremum struct {
	e  extremum.Extremum
	ok bool
}

type optTrend struct {
	t  extremum.Trend
	ok bool
}

// TakeMark records the current output of d.
func TakeMark(d *extremum.Detector) Mark {
	var m Mark
	for i, t := range extremum.Terms {
		m.extrema[i] = len(d.AllExtrema(t))
		m.trends[i] = len(d.AllTrends(t))
		m.pending[i].e, m.pending[i].ok = d.Extremum(t, 0)
		m.pendTr[i].t, m.pendTr[i].ok = d.Trend(t, 0)
	}
	return m
}

// DiffEvents returns one historical event for every extremum and trend
// finalized since before, and a live event for every pending extremum or
// trend that changed.
func DiffEvents(s model.Series, d *extremum.Detector, before Mark) model.EventBatch {
	var batch model.EventBatch
	for i, t := range extremum.Terms {
		for _, e := range d.AllExtrema(t)[before.extrema[i]:] {
			batch.Extrema = append(batch.Extrema, extremumEvent(s, e, false))
		}
		if e, ok := d.Extremum(t, 0); ok && (!before.pending[i].ok || before.pending[i].e != e) {
			batch.Extrema = append(batch.Extrema, extremumEvent(s, e, true))
		}

		for _, tr := range d.AllTrends(t)[before.trends[i]:] {
			batch.Trends = append(batch.Trends, trendEvent(s, tr, false))
		}
		if tr, ok := d.Trend(t, 0); ok && (!before.pendTr[i].ok || before.pendTr[i].t != tr) {
			batch.Trends = append(batch.Trends, trendEvent(s, tr, true))
		}
	}
	return batch
}

func extremumEvent(s model.Series, e extremum.Extremum, live bool) model.ExtremumEvent {
	return model.ExtremumEvent{
		Instrument: s.Instrument,
		TF:         s.TF,
		Term:       e.Term.String(),
		Kind:       e.Kind.String(),
		TS:         e.TS,
		Price:      e.Price,
		Live:       live,
	}
}

func trendEvent(s model.Series, tr extremum.Trend, live bool) model.TrendEvent {
	return model.TrendEvent{
		Instrument: s.Instrument,
		TF:         s.TF,
		Term:       tr.Term().String(),
		Kind:       tr.Kind.String(),
		BeginTS:    tr.Begin.TS,
		BeginPrice: tr.Begin.Price,
		EndTS:      tr.End.TS,
		EndPrice:   tr.End.Price,
		Len:        tr.Len,
		Vol:        tr.Vol,
		AbsP:       tr.AbsP(),
		SpeedP:     tr.SpeedP(),
		Live:       live,
	}
}
