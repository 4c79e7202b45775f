package engine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"trendscope/internal/chart"
	"trendscope/internal/logger"
	"trendscope/internal/model"
	"trendscope/internal/notification"
	"trendscope/internal/store/sqlstore"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.reader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil && ctx.Err() == nil {
			log.Printf("[engine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.reader.StartPELReclaimer(ctx, svc.streams, svc.cfg.PELInterval, svc.cfg.PELMinIdle, svc.barCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[engine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[engine] PEL reclaimer started (interval=%s, minIdle=%s)", svc.cfg.PELInterval, svc.cfg.PELMinIdle)
}

// startLiveSubscriber feeds forming bars from pub/sub into the process loop.
func (svc *Service) startLiveSubscriber(ctx context.Context) {
	go func() {
		if err := svc.reader.SubscribeLiveBars(ctx, svc.barCh); err != nil {
			log.Printf("[engine] live bar subscription error: %v", err)
		}
	}()
}

// processLoop applies bars from the channel to their charts. It is the
// only goroutine that mutates charts.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-svc.barCh:
			if !ok {
				return
			}
			svc.handle(ctx, msg)
		}
	}
}

// handle applies one bar message and emits the resulting events.
func (svc *Service) handle(ctx context.Context, msg model.BarMessage) {
	s := msg.Series()
	if !svc.enabled(s.TF) {
		return
	}
	c, err := svc.chartFor(ctx, s)
	if err != nil {
		svc.log.Error("chart unavailable", slog.String("series", s.String()), slog.Any("err", err))
		return
	}

	if msg.Live {
		svc.prom.LiveBarsTotal.Inc()
		svc.mu.Lock()
		err := c.SetNow(msg.Bar)
		svc.mu.Unlock()
		if err != nil {
			svc.log.Debug("live bar ignored", slog.String("series", s.String()), slog.Any("err", err))
		}
		return
	}

	start := time.Now()
	svc.mu.Lock()
	d := c.Detector()
	before := TakeMark(d)
	stats, err := c.Append(msg.Bar)
	var batch model.EventBatch
	if err == nil {
		batch = DiffEvents(s, d, before)
	}
	svc.mu.Unlock()

	switch {
	case errors.Is(err, chart.ErrOutOfOrder):
		svc.prom.StaleBarsTotal.Inc()
		return
	case err != nil:
		svc.prom.InvalidBarsTotal.Inc()
		logger.ForSeries(svc.log, s).Warn("bar rejected", slog.Any("err", err))
		return
	}
	svc.prom.UpdateDur.Observe(time.Since(start).Seconds())
	svc.prom.CascadeDepth.Observe(float64(stats.Depth))
	svc.prom.BarsTotal.WithLabelValues(string(s.TF)).Inc()
	svc.health.SetLastBarTime(time.Now())

	select {
	case svc.recordCh <- sqlstore.BarRecord{Series: s, Bar: msg.Bar}:
	default:
		svc.log.Warn("bar persistence queue full", slog.String("series", s.String()))
	}
	svc.emit(ctx, batch)
}

// emit counts, publishes and alerts on one batch.
func (svc *Service) emit(ctx context.Context, batch model.EventBatch) {
	if batch.Len() == 0 {
		return
	}
	for _, e := range batch.Extrema {
		if !e.Live {
			svc.prom.ExtremaTotal.WithLabelValues(e.Term).Inc()
		}
	}
	for _, t := range batch.Trends {
		if !t.Live {
			svc.prom.TrendsTotal.WithLabelValues(t.Term).Inc()
		}
	}

	if svc.publisher != nil {
		if err := svc.publisher.Publish(ctx, batch); err != nil {
			svc.prom.PublishErrors.Inc()
			svc.log.Warn("publish events", slog.Int("events", batch.Len()), slog.Any("err", err))
		} else {
			svc.prom.EventsPublished.Add(float64(batch.Len()))
		}
	}

	if svc.notifier == nil {
		return
	}
	alerts := notification.Alerts(batch, svc.cfg.AlertMinTerm)
	if len(alerts) == 0 {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		actx = logger.WithTraceID(actx, logger.NewTraceID())
		for _, a := range alerts {
			if err := svc.notifier.Send(actx, a); err != nil {
				svc.log.Warn("alert delivery",
					append(logger.LogWithTrace(actx), slog.String("title", a.Title), slog.Any("err", err))...)
				continue
			}
			svc.prom.AlertsSent.Inc()
		}
	}()
}
