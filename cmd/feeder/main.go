// cmd/feeder replays stored bars into the Redis bar streams the trend engine
// consumes, for demos and staging without a live market data source.
//
// Bars of --source-tf are sent as-is and resampled into every --tf; the
// forming bars of the longer timeframes go out on the live bar channel.
//
// Usage:
//
//	go run ./cmd/feeder --source-tf=1M --tf=10M,1H,D --instruments=MOEX:SBER --speed=600
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trendscope/config"
	"trendscope/internal/marketdata/replay"
	"trendscope/internal/marketdata/tfbuilder"
	"trendscope/internal/model"
	redisstore "trendscope/internal/store/redis"
	"trendscope/internal/store/sqlstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feeder] starting...")
	base := config.Load()

	instruments := flag.String("instruments", "", "Comma-separated instrument keys (empty=all stored)")
	sourceTF := flag.String("source-tf", "1M", "Timeframe of the stored bars to replay")
	tfStr := flag.String("tf", "10M,1H,D", "Comma-separated timeframes to resample into (empty=none)")
	speed := flag.Float64("speed", 600, "Playback speed multiplier (0=max, 1=realtime)")
	flag.Parse()

	src, err := model.ParseTimeFrame(*sourceTF)
	if err != nil {
		log.Fatalf("[feeder] bad --source-tf: %v", err)
	}
	targets, err := parseTFs(*tfStr, src)
	if err != nil {
		log.Fatalf("[feeder] bad --tf: %v", err)
	}

	store, err := sqlstore.Open(sqlstore.Config{Driver: base.StoreDriver, DSN: base.StoreDSN})
	if err != nil {
		log.Fatalf("[feeder] store open failed: %v", err)
	}
	defer store.Close()

	rdb, err := redisstore.Dial(redisstore.Config{
		Addr:     base.RedisAddr,
		Password: base.RedisPassword,
		DB:       base.RedisDB,
	})
	if err != nil {
		log.Fatalf("[feeder] redis connection failed: %v", err)
	}
	writer := redisstore.NewWriter(rdb)
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	series, err := matchSeries(ctx, store, *instruments, src)
	if err != nil {
		log.Fatalf("[feeder] %v", err)
	}
	log.Printf("[feeder] feeding %d %s series at %.0fx, resampling into %v", len(series), src, *speed, targets)

	builder := tfbuilder.New(targets)
	builder.OnStale = func() { log.Println("[feeder] stale source bar skipped") }

	barCh := make(chan model.BarMessage, 1000)
	go func() {
		if _, err := replay.New(store).Run(ctx, series, math.MinInt64, math.MaxInt64, *speed, barCh); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[feeder] replay error: %v", err)
		}
		close(barCh)
	}()

	sent := 0
	send := func(m model.BarMessage) {
		if err := writer.WriteBar(ctx, m); err != nil {
			log.Printf("[feeder] %s: %v", m.Series(), err)
			return
		}
		if !m.Live {
			sent++
			if sent%1000 == 0 {
				log.Printf("[feeder] %d bars sent", sent)
			}
		}
	}
	for msg := range barCh {
		send(msg)
		for _, m := range builder.Process(msg) {
			send(m)
		}
	}
	if ctx.Err() == nil {
		for _, m := range builder.Flush() {
			send(m)
		}
	}
	log.Printf("[feeder] done, %d bars sent", sent)
}

// parseTFs parses the target list, which must only hold timeframes longer
// than src.
func parseTFs(s string, src model.TimeFrame) ([]model.TimeFrame, error) {
	var tfs []model.TimeFrame
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		tf, err := model.ParseTimeFrame(p)
		if err != nil {
			return nil, err
		}
		if tf.Duration() <= src.Duration() {
			return nil, fmt.Errorf("%s is not longer than source %s", tf, src)
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}

func matchSeries(ctx context.Context, store *sqlstore.Store, instruments string, tf model.TimeFrame) ([]model.Series, error) {
	wantInst := make(map[string]bool)
	for _, p := range strings.Split(instruments, ",") {
		if p = strings.TrimSpace(p); p != "" {
			wantInst[p] = true
		}
	}

	stored, err := store.ListSeries(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Series
	for _, s := range stored {
		if s.TF == tf && (len(wantInst) == 0 || wantInst[s.Instrument]) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no stored series match the filters")
	}
	return out, nil
}
