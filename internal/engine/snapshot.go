package engine

import (
	"context"
	"log"
	"log/slog"
	"time"

	"trendscope/internal/extremum"
	"trendscope/internal/logger"
	"trendscope/internal/model"
)

// snapshotLoop periodically checkpoints every changed chart.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.checkpoint(ctx); n > 0 {
				log.Printf("[engine] ✅ checkpoint saved (%d charts)", n)
			}
		}
	}
}

type pendingCheckpoint struct {
	series model.Series
	snap   *extremum.Snapshot
}

// checkpoint saves a snapshot of every detector that advanced since its
// last checkpoint to all snapshot stores, and its artifacts to the SQL
// store. Returns the number of charts saved.
func (svc *Service) checkpoint(ctx context.Context) int {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())

	var todo []pendingCheckpoint
	svc.mu.RLock()
	for s, c := range svc.charts {
		d := c.Detector()
		if d == nil || !d.Seeded() || d.LastTS() == svc.lastSaved[s] {
			continue
		}
		todo = append(todo, pendingCheckpoint{series: s, snap: d.Snapshot()})
	}
	svc.mu.RUnlock()

	saved := 0
	for _, p := range todo {
		if err := svc.save(ctx, p); err != nil {
			svc.prom.SnapshotErrors.Inc()
			logger.ForSeries(svc.log, p.series).Error("checkpoint",
				append(logger.LogWithTrace(ctx), slog.Any("err", err))...)
			continue
		}
		svc.mu.Lock()
		svc.lastSaved[p.series] = p.snap.LastTS
		svc.mu.Unlock()
		saved++
	}
	if len(todo) > 0 {
		svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
	}
	return saved
}

// save works on a deep copy, so the process loop keeps running meanwhile.
func (svc *Service) save(ctx context.Context, p pendingCheckpoint) error {
	data, err := p.snap.JSON()
	if err != nil {
		return err
	}
	for _, src := range svc.snapshots {
		if err := src.store.SaveSnapshotJSON(ctx, p.series, data); err != nil {
			return err
		}
	}
	if svc.store == nil {
		return nil
	}
	d, err := extremum.Restore(p.snap)
	if err != nil {
		return err
	}
	return svc.store.SaveArtifacts(ctx, p.series, d)
}
