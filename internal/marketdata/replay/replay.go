// Package replay reads stored bars and emits them at a configurable speed,
// for backtests and demo feeds.
package replay

import (
	"context"
	"log"
	"time"

	"trendscope/internal/model"
)

// maxGap caps the simulated pause between two bars.
const maxGap = 5 * time.Second

// Replayer replays the bars of one or more series in timestamp order.
type Replayer struct {
	reader model.BarReader
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by any bar reader.
func New(reader model.BarReader) *Replayer {
	return &Replayer{reader: reader, sleep: sleepCtx}
}

// Run replays all bars of the given series with fromTS <= TS <= tillTS into
// out. speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
// 0 = as fast as possible. Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, series []model.Series, fromTS, tillTS int64, speed float64, out chan<- model.BarMessage) (int, error) {
	var all []model.BarMessage
	for _, s := range series {
		bars, err := r.reader.ReadBars(ctx, s, fromTS, tillTS)
		if err != nil {
			return 0, err
		}
		for _, b := range bars {
			all = append(all, model.BarMessage{Instrument: s.Instrument, TF: s.TF, Bar: b})
		}
	}
	if len(all) == 0 {
		log.Println("[replay] no bars found")
		return 0, nil
	}

	// Interleaved across series; stable keeps per-series order on ties.
	sortMessages(all)
	log.Printf("[replay] loaded %d bars across %d series, speed=%.1fx", len(all), len(series), speed)

	var prevTS int64
	emitted := 0
	for i, m := range all {
		if speed > 0 && i > 0 {
			if gap := time.Duration(m.Bar.TS - prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return emitted, err
				}
			}
		}
		prevTS = m.Bar.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		case out <- m:
			emitted++
		}
	}
	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sortMessages is a stable insertion sort by bar timestamp.
func sortMessages(msgs []model.BarMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Bar.TS < msgs[j-1].Bar.TS; j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}
