package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"trendscope/internal/chart"
	"trendscope/internal/extremum"
	"trendscope/internal/logger"
	"trendscope/internal/model"
)

// chartFor returns the chart of s, restoring it on first use. Only the
// process loop and warm-up create charts, so the restore runs unlocked.
func (svc *Service) chartFor(ctx context.Context, s model.Series) (*chart.Chart, error) {
	svc.mu.RLock()
	c := svc.charts[s]
	svc.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	c, source, err := svc.restoreChart(ctx, s)
	if err != nil {
		return nil, err
	}
	svc.mu.Lock()
	svc.charts[s] = c
	svc.lastSaved[s] = 0
	if source != "cold" {
		svc.lastSaved[s] = c.Detector().LastTS()
	}
	n := len(svc.charts)
	svc.mu.Unlock()

	svc.prom.ChartsActive.Set(float64(n))
	svc.prom.RestoreSource.WithLabelValues(source).Inc()
	svc.health.SetCharts(n)
	logger.ForSeries(svc.log, s).Info("chart ready", slog.String("source", source), slog.Int("bars", c.Len()))
	return c, nil
}

// restoreChart loads the stored bars of s and attaches a detector: the
// first snapshot that matches the bars wins, otherwise the detector is
// rebuilt from the bars.
func (svc *Service) restoreChart(ctx context.Context, s model.Series) (*chart.Chart, string, error) {
	var bars []model.Bar
	if svc.store != nil {
		var err error
		bars, err = svc.store.ReadBars(ctx, s, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, "", err
		}
	}
	c, err := chart.New(s, bars)
	if err != nil {
		return nil, "", fmt.Errorf("restore %s: %w", s, err)
	}

	for _, src := range svc.snapshots {
		d, err := loadSnapshot(ctx, src.store, s)
		if err != nil {
			svc.log.Warn("snapshot unusable", slog.String("series", s.String()),
				slog.String("source", src.name), slog.Any("err", err))
			continue
		}
		if d == nil {
			continue
		}
		if err := c.AttachRestored(d); err != nil {
			svc.log.Warn("snapshot does not match bars", slog.String("series", s.String()),
				slog.String("source", src.name), slog.Any("err", err))
			continue
		}
		return c, src.name, nil
	}

	c.AttachDetector()
	return c, "cold", nil
}

// loadSnapshot returns nil, nil when the store has no snapshot of s.
func loadSnapshot(ctx context.Context, store model.SnapshotStore, s model.Series) (*extremum.Detector, error) {
	data, err := store.ReadLatestSnapshotJSON(ctx, s)
	if err != nil || data == nil {
		return nil, err
	}
	snap, err := extremum.ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	return extremum.Restore(snap)
}
