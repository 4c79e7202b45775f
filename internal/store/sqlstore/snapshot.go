package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"trendscope/internal/model"
)

// SaveSnapshotJSON stores a detector snapshot and prunes the series down to
// the newest keepSnapshots rows.
func (s *Store) SaveSnapshotJSON(ctx context.Context, series model.Series, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO detector_snapshots (id, instrument, tf, data, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), series.Instrument, string(series.TF), string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlstore insert snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM detector_snapshots
		WHERE instrument = ? AND tf = ? AND id NOT IN (
			SELECT id FROM detector_snapshots
			WHERE instrument = ? AND tf = ?
			ORDER BY created_at DESC LIMIT ?)`),
		series.Instrument, string(series.TF), series.Instrument, string(series.TF), keepSnapshots)
	if err != nil {
		log.Printf("[sqlstore] prune snapshots warning: %v", err)
	}
	return nil
}

// ReadLatestSnapshotJSON loads the newest snapshot of a series.
// Returns nil, nil if none exists.
func (s *Store) ReadLatestSnapshotJSON(ctx context.Context, series model.Series) ([]byte, error) {
	var data string
	err := s.db.GetContext(ctx, &data, s.db.Rebind(`
		SELECT data FROM detector_snapshots
		WHERE instrument = ? AND tf = ?
		ORDER BY created_at DESC LIMIT 1`),
		series.Instrument, string(series.TF))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore read snapshot: %w", err)
	}
	return []byte(data), nil
}

// SnapshotCount returns the number of stored snapshots of a series.
func (s *Store) SnapshotCount(ctx context.Context, series model.Series) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(*) FROM detector_snapshots WHERE instrument = ? AND tf = ?`),
		series.Instrument, string(series.TF))
	return n, err
}
