package extremum

import "trendscope/internal/model"

// level holds the state of one term. History entries are final; the
// pending extremum and pending trend may still change.
type level struct {
	term    Term
	extrema []Extremum
	pending *Extremum

	trends       []Trend
	pendingTrend *Trend
}

func (l *level) setPending(e Extremum) {
	l.pending = &e
}

// seedFirst opens the T1 pending extremum from the first bar: a bull bar
// starts at its high, anything else at its low.
func (l *level) seedFirst(b model.Bar) {
	if b.IsBull() {
		l.setPending(Extremum{TS: b.TS, Term: T1, Kind: Max, Price: b.High})
		return
	}
	l.setPending(Extremum{TS: b.TS, Term: T1, Kind: Min, Price: b.Low})
}

// advanceFirst applies one bar to the T1 level and reports whether the
// history grew.
func (l *level) advanceFirst(b model.Bar) bool {
	p := *l.pending
	if p.IsMax() {
		if p.extendedBy(b.High) {
			l.setPending(Extremum{TS: b.TS, Term: T1, Kind: Max, Price: b.High})
			return false
		}
		l.extrema = append(l.extrema, p)
		l.setPending(Extremum{TS: b.TS, Term: T1, Kind: Min, Price: b.Low})
		return true
	}
	if p.extendedBy(b.Low) {
		l.setPending(Extremum{TS: b.TS, Term: T1, Kind: Min, Price: b.Low})
		return false
	}
	l.extrema = append(l.extrema, p)
	l.setPending(Extremum{TS: b.TS, Term: T1, Kind: Max, Price: b.High})
	return true
}

// promote feeds the newest entry of lower, the history of the term below,
// into l. Only entries of the pending kind are compared: a stronger one
// replaces the pending extremum, a weaker one finalizes it and the entry
// just before the newest becomes the new pending. It reports whether the
// history of l grew.
//
// Batch derivation calls promote on every prefix of the lower history, so
// batch and incremental results are identical.
func (l *level) promote(lower []Extremum) bool {
	n := len(lower)
	if n == 0 {
		return false
	}
	last := lower[n-1]
	if l.pending == nil {
		l.setPending(last.withTerm(l.term))
		return false
	}
	if last.Kind != l.pending.Kind {
		return false
	}
	if l.pending.extendedBy(last.Price) {
		l.setPending(last.withTerm(l.term))
		return false
	}
	l.extrema = append(l.extrema, *l.pending)
	l.setPending(lower[n-2].withTerm(l.term))
	return true
}

// refreshTrends appends the trends of new history entries and rebuilds the
// pending trend when one of its endpoints moved.
func (l *level) refreshTrends(history []model.Bar) {
	for i := len(l.trends) + 1; i < len(l.extrema); i++ {
		l.trends = append(l.trends, NewTrend(l.extrema[i-1], l.extrema[i], history))
	}

	if len(l.extrema) == 0 || l.pending == nil {
		l.pendingTrend = nil
		return
	}
	begin, end := l.extrema[len(l.extrema)-1], *l.pending
	if pt := l.pendingTrend; pt != nil && pt.Begin == begin && pt.End == end {
		return
	}
	t := NewTrend(begin, end, history)
	l.pendingTrend = &t
}
