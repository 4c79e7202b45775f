package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"trendscope/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// BarRecord is one bar addressed to its series, the unit of RunBars.
type BarRecord struct {
	Series model.Series
	Bar    model.Bar
}

type barRow struct {
	Instrument string `db:"instrument"`
	TF         string `db:"tf"`
	model.Bar
}

const upsertBar = `
	INSERT INTO bars (instrument, tf, ts, open, high, low, close, volume)
	VALUES (:instrument, :tf, :ts, :open, :high, :low, :close, :volume)
	ON CONFLICT (instrument, tf, ts) DO UPDATE SET
		open = excluded.open, high = excluded.high, low = excluded.low,
		close = excluded.close, volume = excluded.volume`

// WriteBars upserts bars of one series in a single transaction.
func (s *Store) WriteBars(ctx context.Context, series model.Series, bars []model.Bar) error {
	recs := make([]BarRecord, len(bars))
	for i, b := range bars {
		recs[i] = BarRecord{Series: series, Bar: b}
	}
	return s.insertBatch(ctx, recs)
}

func (s *Store) insertBatch(ctx context.Context, recs []BarRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareNamedContext(ctx, upsertBar)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		row := barRow{Instrument: r.Series.Instrument, TF: string(r.Series.TF), Bar: r.Bar}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s ts=%d: %w", r.Series, r.Bar.TS, err)
		}
	}
	return tx.Commit()
}

// RunBars reads bars from ch and upserts them in batched transactions.
// Flushes every batch of defaultBatchSize OR every defaultFlushDelay,
// whichever first. Blocks until ctx is cancelled or ch is closed.
func (s *Store) RunBars(ctx context.Context, ch <-chan BarRecord) {
	batch := make([]BarRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// The caller's ctx may already be cancelled on the final flush.
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.insertBatch(fctx, batch); err != nil {
			log.Printf("[sqlstore] bar batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// ReadBars returns bars of a series with fromTS <= ts <= tillTS, oldest
// first.
func (s *Store) ReadBars(ctx context.Context, series model.Series, fromTS, tillTS int64) ([]model.Bar, error) {
	var bars []model.Bar
	err := s.db.SelectContext(ctx, &bars, s.db.Rebind(`
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE instrument = ? AND tf = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`),
		series.Instrument, string(series.TF), fromTS, tillTS)
	if err != nil {
		return nil, fmt.Errorf("sqlstore read bars %s: %w", series, err)
	}
	return bars, nil
}

// LastTimestamp returns the newest stored bar timestamp of a series, or 0.
func (s *Store) LastTimestamp(ctx context.Context, series model.Series) (int64, error) {
	var ts sql.NullInt64
	err := s.db.GetContext(ctx, &ts, s.db.Rebind(
		`SELECT MAX(ts) FROM bars WHERE instrument = ? AND tf = ?`),
		series.Instrument, string(series.TF))
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// ListSeries returns every series with at least one stored bar.
func (s *Store) ListSeries(ctx context.Context) ([]model.Series, error) {
	var out []model.Series
	err := s.db.SelectContext(ctx, &out,
		`SELECT DISTINCT instrument, tf FROM bars ORDER BY instrument, tf`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore list series: %w", err)
	}
	return out, nil
}
