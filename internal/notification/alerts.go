package notification

import (
	"fmt"
	"time"

	"trendscope/internal/model"
)

// TermRank parses "T1".."T5" into 1..5, or 0.
func TermRank(term string) int {
	if len(term) == 2 && term[0] == 'T' && term[1] >= '1' && term[1] <= '5' {
		return int(term[1] - '0')
	}
	return 0
}

// Alerts builds one alert per finalized extremum and trend of a batch whose
// term is at least minTerm. Live events never alert.
func Alerts(batch model.EventBatch, minTerm int) []Alert {
	var out []Alert
	for _, e := range batch.Extrema {
		if e.Live || TermRank(e.Term) < minTerm {
			continue
		}
		out = append(out, Alert{
			Level:   levelFor(e.Term),
			Title:   fmt.Sprintf("%s %s %s %s confirmed", e.Instrument, e.TF, e.Term, e.Kind),
			Message: fmt.Sprintf("%v at %s", e.Price, time.Unix(0, e.TS).UTC().Format(time.RFC3339)),
		})
	}
	for _, tr := range batch.Trends {
		if tr.Live || TermRank(tr.Term) < minTerm {
			continue
		}
		out = append(out, Alert{
			Level: levelFor(tr.Term),
			Title: fmt.Sprintf("%s %s %s trend closed on %s", tr.Instrument, tr.TF, tr.Term, tr.Kind),
			Message: fmt.Sprintf("%v -> %v (%.2f%%) over %d bars, %s .. %s, speed %.2f%%/bar",
				tr.BeginPrice, tr.EndPrice, tr.AbsP, tr.Len,
				time.Unix(0, tr.BeginTS).UTC().Format(time.RFC3339),
				time.Unix(0, tr.EndTS).UTC().Format(time.RFC3339),
				tr.SpeedP),
		})
	}
	return out
}

func levelFor(term string) AlertLevel {
	if TermRank(term) >= 4 {
		return AlertWarning
	}
	return AlertInfo
}
