package sqlstore

import (
	"context"
	"fmt"

	"trendscope/internal/extremum"
	"trendscope/internal/model"
)

type extremumRow struct {
	Instrument string  `db:"instrument"`
	TF         string  `db:"tf"`
	Term       int     `db:"term"`
	TS         int64   `db:"ts"`
	Kind       string  `db:"kind"`
	Price      float64 `db:"price"`
}

type trendRow struct {
	Instrument string  `db:"instrument"`
	TF         string  `db:"tf"`
	Term       int     `db:"term"`
	BeginTS    int64   `db:"begin_ts"`
	BeginKind  string  `db:"begin_kind"`
	BeginPrice float64 `db:"begin_price"`
	EndTS      int64   `db:"end_ts"`
	EndKind    string  `db:"end_kind"`
	EndPrice   float64 `db:"end_price"`
	Kind       string  `db:"kind"`
	Len        uint32  `db:"len"`
	Vol        uint64  `db:"vol"`
	AbsP       float64 `db:"abs_p"`
	SpeedP     float64 `db:"speed_p"`
}

const upsertExtremum = `
	INSERT INTO extrema (instrument, tf, term, ts, kind, price)
	VALUES (:instrument, :tf, :term, :ts, :kind, :price)
	ON CONFLICT (instrument, tf, term, ts) DO UPDATE SET
		kind = excluded.kind, price = excluded.price`

const upsertTrend = `
	INSERT INTO trends (instrument, tf, term, begin_ts, begin_kind, begin_price,
		end_ts, end_kind, end_price, kind, len, vol, abs_p, speed_p)
	VALUES (:instrument, :tf, :term, :begin_ts, :begin_kind, :begin_price,
		:end_ts, :end_kind, :end_price, :kind, :len, :vol, :abs_p, :speed_p)
	ON CONFLICT (instrument, tf, term, begin_ts) DO UPDATE SET
		begin_kind = excluded.begin_kind, begin_price = excluded.begin_price,
		end_ts = excluded.end_ts, end_kind = excluded.end_kind, end_price = excluded.end_price,
		kind = excluded.kind, len = excluded.len, vol = excluded.vol,
		abs_p = excluded.abs_p, speed_p = excluded.speed_p`

// SaveArtifacts upserts the historical extrema and trends of every term of
// d in one transaction. Rows are keyed by timestamp, so saving the same
// detector again is idempotent.
func (s *Store) SaveArtifacts(ctx context.Context, series model.Series, d *extremum.Detector) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	extStmt, err := tx.PrepareNamedContext(ctx, upsertExtremum)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer extStmt.Close()
	trStmt, err := tx.PrepareNamedContext(ctx, upsertTrend)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer trStmt.Close()

	for _, term := range extremum.Terms {
		for _, e := range d.AllExtrema(term) {
			if _, err := extStmt.ExecContext(ctx, toExtremumRow(series, e)); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert extremum %s %s: %w", series, term, err)
			}
		}
		for _, t := range d.AllTrends(term) {
			if _, err := trStmt.ExecContext(ctx, toTrendRow(series, term, t)); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert trend %s %s: %w", series, term, err)
			}
		}
	}
	return tx.Commit()
}

func toExtremumRow(s model.Series, e extremum.Extremum) extremumRow {
	return extremumRow{
		Instrument: s.Instrument, TF: string(s.TF), Term: int(e.Term),
		TS: e.TS, Kind: e.Kind.String(), Price: e.Price,
	}
}

func toTrendRow(s model.Series, term extremum.Term, t extremum.Trend) trendRow {
	return trendRow{
		Instrument: s.Instrument, TF: string(s.TF), Term: int(term),
		BeginTS: t.Begin.TS, BeginKind: t.Begin.Kind.String(), BeginPrice: t.Begin.Price,
		EndTS: t.End.TS, EndKind: t.End.Kind.String(), EndPrice: t.End.Price,
		Kind: t.Kind.String(), Len: t.Len, Vol: t.Vol,
		AbsP: t.AbsP(), SpeedP: t.SpeedP(),
	}
}

// ReadExtrema returns the stored extrema of one term, oldest first.
func (s *Store) ReadExtrema(ctx context.Context, series model.Series, term extremum.Term) ([]extremum.Extremum, error) {
	var rows []extremumRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT instrument, tf, term, ts, kind, price
		FROM extrema
		WHERE instrument = ? AND tf = ? AND term = ?
		ORDER BY ts ASC`),
		series.Instrument, string(series.TF), int(term))
	if err != nil {
		return nil, fmt.Errorf("sqlstore read extrema %s %s: %w", series, term, err)
	}
	out := make([]extremum.Extremum, len(rows))
	for i, r := range rows {
		kind, err := extremum.ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}
		out[i] = extremum.Extremum{TS: r.TS, Term: extremum.Term(r.Term), Kind: kind, Price: r.Price}
	}
	return out, nil
}

// ReadTrends returns the stored trends of one term, oldest first.
func (s *Store) ReadTrends(ctx context.Context, series model.Series, term extremum.Term) ([]extremum.Trend, error) {
	var rows []trendRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT instrument, tf, term, begin_ts, begin_kind, begin_price,
			end_ts, end_kind, end_price, kind, len, vol, abs_p, speed_p
		FROM trends
		WHERE instrument = ? AND tf = ? AND term = ?
		ORDER BY begin_ts ASC`),
		series.Instrument, string(series.TF), int(term))
	if err != nil {
		return nil, fmt.Errorf("sqlstore read trends %s %s: %w", series, term, err)
	}
	out := make([]extremum.Trend, len(rows))
	for i, r := range rows {
		var t extremum.Trend
		if err := t.Kind.UnmarshalText([]byte(r.Kind)); err != nil {
			return nil, err
		}
		bk, err := extremum.ParseKind(r.BeginKind)
		if err != nil {
			return nil, err
		}
		ek, err := extremum.ParseKind(r.EndKind)
		if err != nil {
			return nil, err
		}
		t.Begin = extremum.Extremum{TS: r.BeginTS, Term: extremum.Term(r.Term), Kind: bk, Price: r.BeginPrice}
		t.End = extremum.Extremum{TS: r.EndTS, Term: extremum.Term(r.Term), Kind: ek, Price: r.EndPrice}
		t.Len, t.Vol = r.Len, r.Vol
		out[i] = t
	}
	return out, nil
}
