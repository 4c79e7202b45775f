package extremum

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
// Restore rejects snapshots of any other version.
const SnapshotVersion = 1

// Snapshot is a serializable copy of the full detector state.
type Snapshot struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Seeded    bool            `json:"seeded"`
	LastTS    int64           `json:"last_ts"`
	Levels    []LevelSnapshot `json:"levels"`
}

// LevelSnapshot is the state of one term.
type LevelSnapshot struct {
	Term         Term       `json:"term"`
	Extrema      []Extremum `json:"extrema"`
	Pending      *Extremum  `json:"pending,omitempty"`
	Trends       []Trend    `json:"trends"`
	PendingTrend *Trend     `json:"pending_trend,omitempty"`
}

// Snapshot captures the detector state. The result shares nothing with
// the detector.
func (d *Detector) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		CreatedAt: time.Now().UTC(),
		Seeded:    d.seeded,
		LastTS:    d.lastTS,
		Levels:    make([]LevelSnapshot, termCount),
	}
	for i := range d.levels {
		l := &d.levels[i]
		ls := LevelSnapshot{
			Term:    l.term,
			Extrema: append([]Extremum(nil), l.extrema...),
			Trends:  append([]Trend(nil), l.trends...),
		}
		if l.pending != nil {
			p := *l.pending
			ls.Pending = &p
		}
		if l.pendingTrend != nil {
			pt := *l.pendingTrend
			ls.PendingTrend = &pt
		}
		s.Levels[i] = ls
	}
	return s
}

// JSON returns the JSON-encoded snapshot.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// ParseSnapshot decodes a JSON snapshot without validating it.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("extremum: decode snapshot: %w", err)
	}
	return &s, nil
}

// Restore builds a detector from a snapshot after checking its structure:
// version, term tags, alternation, increasing timestamps, that every trend
// joins consecutive extrema, and that every level is drawn from the history
// of the level below.
func Restore(s *Snapshot) (*Detector, error) {
	if s == nil {
		return nil, fmt.Errorf("extremum: nil snapshot")
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("extremum: snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	if len(s.Levels) != termCount {
		return nil, fmt.Errorf("extremum: snapshot has %d levels, want %d", len(s.Levels), termCount)
	}

	d := New()
	d.seeded = s.Seeded
	d.lastTS = s.LastTS
	for i, ls := range s.Levels {
		t := Terms[i]
		if err := ls.validate(t, s.LastTS); err != nil {
			return nil, err
		}
		l := &d.levels[i]
		l.extrema = append([]Extremum(nil), ls.Extrema...)
		l.trends = append([]Trend(nil), ls.Trends...)
		if ls.Pending != nil {
			l.setPending(*ls.Pending)
		}
		if ls.PendingTrend != nil {
			pt := *ls.PendingTrend
			l.pendingTrend = &pt
		}
	}
	if d.seeded && d.levels[0].pending == nil {
		return nil, fmt.Errorf("extremum: seeded snapshot without a T1 pending extremum")
	}
	for i := 1; i < termCount; i++ {
		if err := checkDerived(&s.Levels[i], &s.Levels[i-1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// checkDerived verifies that every entry of upper, pending included, is a
// historical entry of lower, the term below.
func checkDerived(upper, lower *LevelSnapshot) error {
	if upper.Pending == nil && len(upper.Extrema) == 0 {
		return nil
	}
	if len(lower.Extrema) == 0 {
		return fmt.Errorf("extremum: %s has entries but %s has no history", upper.Term, lower.Term)
	}
	type point struct {
		ts    int64
		kind  Kind
		price float64
	}
	known := make(map[point]bool, len(lower.Extrema))
	for _, e := range lower.Extrema {
		known[point{e.TS, e.Kind, e.Price}] = true
	}
	seq := upper.Extrema
	if upper.Pending != nil {
		seq = append(append([]Extremum(nil), seq...), *upper.Pending)
	}
	for i, e := range seq {
		if !known[point{e.TS, e.Kind, e.Price}] {
			return fmt.Errorf("extremum: %s entry %d is not in %s history", upper.Term, i, lower.Term)
		}
	}
	return nil
}

func (ls *LevelSnapshot) validate(t Term, lastTS int64) error {
	if ls.Term != t {
		return fmt.Errorf("extremum: level %s tagged %s", t, ls.Term)
	}
	seq := ls.Extrema
	if ls.Pending != nil {
		seq = append(append([]Extremum(nil), seq...), *ls.Pending)
	} else if len(seq) > 0 {
		return fmt.Errorf("extremum: %s has history but no pending extremum", t)
	}
	for i, e := range seq {
		if e.Term != t {
			return fmt.Errorf("extremum: %s entry %d tagged %s", t, i, e.Term)
		}
		if e.Kind != Max && e.Kind != Min {
			return fmt.Errorf("extremum: %s entry %d has kind %d", t, i, e.Kind)
		}
		if e.TS > lastTS {
			return fmt.Errorf("extremum: %s entry %d at %d after last bar %d", t, i, e.TS, lastTS)
		}
		if i > 0 && e.TS <= seq[i-1].TS {
			return fmt.Errorf("extremum: %s entry %d not after its predecessor", t, i)
		}
	}
	for i := 1; i < len(ls.Extrema); i++ {
		if ls.Extrema[i].Kind == ls.Extrema[i-1].Kind {
			return fmt.Errorf("extremum: %s history does not alternate at %d", t, i)
		}
	}

	want := len(ls.Extrema) - 1
	if want < 0 {
		want = 0
	}
	if len(ls.Trends) != want {
		return fmt.Errorf("extremum: %s has %d trends for %d extrema", t, len(ls.Trends), len(ls.Extrema))
	}
	for i, tr := range ls.Trends {
		if tr.Begin != ls.Extrema[i] || tr.End != ls.Extrema[i+1] {
			return fmt.Errorf("extremum: %s trend %d does not join extrema %d and %d", t, i, i, i+1)
		}
	}
	pt := ls.PendingTrend
	switch {
	case len(ls.Extrema) == 0 || ls.Pending == nil:
		if pt != nil {
			return fmt.Errorf("extremum: %s has a pending trend without endpoints", t)
		}
	case pt == nil:
		return fmt.Errorf("extremum: %s is missing its pending trend", t)
	case pt.Begin != ls.Extrema[len(ls.Extrema)-1] || pt.End != *ls.Pending:
		return fmt.Errorf("extremum: %s pending trend endpoints are stale", t)
	}
	return nil
}
