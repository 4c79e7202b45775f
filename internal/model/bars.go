package model

import "sort"

// BisectLeft locates ts in bars, which must be sorted by strictly increasing
// TS. On an exact match it returns that index. Otherwise it returns the
// index of the nearest bar before ts, the last index when ts is past the
// end, and false when ts precedes the first bar.
func BisectLeft(bars []Bar, ts int64) (int, bool) {
	if len(bars) == 0 || ts < bars[0].TS {
		return -1, false
	}
	i := sort.Search(len(bars), func(i int) bool { return bars[i].TS >= ts })
	if i < len(bars) && bars[i].TS == ts {
		return i, true
	}
	return i - 1, true
}

// BisectRight locates ts in bars, which must be sorted by strictly
// increasing TS. On an exact match it returns that index. Otherwise it
// returns the index of the nearest bar after ts, zero when ts precedes the
// first bar, and false when ts is past the last bar.
func BisectRight(bars []Bar, ts int64) (int, bool) {
	if len(bars) == 0 || ts > bars[len(bars)-1].TS {
		return -1, false
	}
	return sort.Search(len(bars), func(i int) bool { return bars[i].TS >= ts }), true
}

// SelectBars returns the sub-slice of bars with from <= TS <= till. The
// result aliases bars.
func SelectBars(bars []Bar, from, till int64) []Bar {
	if from > till {
		return nil
	}
	lo, ok := BisectRight(bars, from)
	if !ok {
		return nil
	}
	hi, ok := BisectLeft(bars, till)
	if !ok || hi < lo {
		return nil
	}
	return bars[lo : hi+1]
}
