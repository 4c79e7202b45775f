// cmd/backtest replays stored bars through the trend detector, checks that
// the incremental result matches a batch Init over the same bars, and prints
// the detected extrema and trends.
//
// Usage:
//
//	go run ./cmd/backtest --tf=D --instruments=MOEX:SBER --from=2023-01-01
//	go run ./cmd/backtest --import=sber_d.csv --instruments=MOEX:SBER --tf=D
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"trendscope/config"
	"trendscope/internal/chart"
	"trendscope/internal/engine"
	"trendscope/internal/extremum"
	"trendscope/internal/marketdata/replay"
	"trendscope/internal/model"
	redisstore "trendscope/internal/store/redis"
	"trendscope/internal/store/sqlstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	base := config.Load()

	// Flags
	driver := flag.String("driver", base.StoreDriver, "SQL driver: sqlite3 or postgres")
	dsn := flag.String("db", base.StoreDSN, "SQLite path or Postgres connection string")
	instruments := flag.String("instruments", "", "Comma-separated instrument keys (empty=all stored)")
	tfStr := flag.String("tf", "D", "Comma-separated timeframes to replay")
	fromStr := flag.String("from", "", "Start date, YYYY-MM-DD or RFC3339 (empty=all)")
	tillStr := flag.String("till", "", "End date, YYYY-MM-DD or RFC3339 (empty=all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	importPath := flag.String("import", "", "CSV file of ts,open,high,low,close,volume to load before replay")
	verify := flag.Bool("verify", true, "Compare incremental output with a batch run")
	save := flag.Bool("save", false, "Save extrema, trends and a snapshot to the store")
	publish := flag.Bool("publish", false, "Publish events to Redis as they are detected")
	last := flag.Int("last", 5, "Extrema and trends to print per term")
	flag.Parse()

	tfs, err := parseTFs(*tfStr)
	if err != nil || len(tfs) == 0 {
		log.Fatalf("[backtest] bad --tf %q: %v", *tfStr, err)
	}
	fromTS, err := parseTime(*fromStr, math.MinInt64)
	if err != nil {
		log.Fatalf("[backtest] bad --from: %v", err)
	}
	tillTS, err := parseTime(*tillStr, math.MaxInt64)
	if err != nil {
		log.Fatalf("[backtest] bad --till: %v", err)
	}

	if *driver == sqlstore.DriverSQLite {
		os.MkdirAll(filepath.Dir(*dsn), 0o755)
	}
	store, err := sqlstore.Open(sqlstore.Config{Driver: *driver, DSN: *dsn})
	if err != nil {
		log.Fatalf("[backtest] store open failed: %v", err)
	}
	defer store.Close()

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *importPath != "" {
		if err := importCSV(ctx, store, *importPath, splitList(*instruments), tfs); err != nil {
			log.Fatalf("[backtest] import failed: %v", err)
		}
	}

	series, err := selectSeries(ctx, store, splitList(*instruments), tfs)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if len(series) == 0 {
		log.Fatal("[backtest] no stored series match the filters")
	}

	var writer *redisstore.Writer
	if *publish {
		rdb, err := redisstore.Dial(redisstore.Config{
			Addr:     base.RedisAddr,
			Password: base.RedisPassword,
			DB:       base.RedisDB,
		})
		if err != nil {
			log.Fatalf("[backtest] redis connection failed: %v", err)
		}
		writer = redisstore.NewWriter(rdb)
		defer writer.Close()
	}

	charts := make(map[model.Series]*chart.Chart, len(series))
	for _, s := range series {
		c, _ := chart.New(s, nil)
		c.AttachDetector()
		charts[s] = c
	}

	// Create replayer
	replayer := replay.New(store)
	barCh := make(chan model.BarMessage, 10000)

	// Replay in background
	go func() {
		if _, err := replayer.Run(ctx, series, fromTS, tillTS, *speed, barCh); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(barCh)
	}()

	// Feed bars through the charts
	processed, rejected, events := 0, 0, 0
	started := time.Now()
	for msg := range barCh {
		c := charts[msg.Series()]
		d := c.Detector()
		before := engine.TakeMark(d)
		if _, err := c.Append(msg.Bar); err != nil {
			rejected++
			log.Printf("[backtest] %s: %v", msg.Series(), err)
			continue
		}
		processed++
		batch := engine.DiffEvents(msg.Series(), d, before)
		events += batch.Len()
		if writer != nil && batch.Len() > 0 {
			if err := writer.WriteEvents(ctx, batch); err != nil {
				log.Printf("[backtest] publish failed: %v", err)
			}
		}
	}
	elapsed := time.Since(started)

	mismatches := 0
	for _, s := range series {
		c := charts[s]
		printChart(c, *last)
		if *verify {
			mismatches += verifyBatch(c)
		}
		if *save {
			saveChart(ctx, store, c)
		}
	}

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Series:            %-16d ║\n", len(series))
	fmt.Printf("║  Bars processed:    %-16d ║\n", processed)
	fmt.Printf("║  Bars rejected:     %-16d ║\n", rejected)
	fmt.Printf("║  Events:            %-16d ║\n", events)
	fmt.Printf("║  Elapsed:           %-16s ║\n", elapsed.Round(time.Millisecond))
	if *verify {
		fmt.Printf("║  Batch mismatches:  %-16d ║\n", mismatches)
	}
	fmt.Println("╚══════════════════════════════════════╝")

	if mismatches > 0 {
		store.Close()
		os.Exit(1)
	}
}

// selectSeries returns the stored series matching the instrument and
// timeframe filters. An empty instrument list matches every instrument.
func selectSeries(ctx context.Context, store *sqlstore.Store, instruments []string, tfs []model.TimeFrame) ([]model.Series, error) {
	stored, err := store.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	wantTF := make(map[model.TimeFrame]bool, len(tfs))
	for _, tf := range tfs {
		wantTF[tf] = true
	}
	wantInst := make(map[string]bool, len(instruments))
	for _, i := range instruments {
		wantInst[i] = true
	}
	var out []model.Series
	for _, s := range stored {
		if !wantTF[s.TF] || (len(wantInst) > 0 && !wantInst[s.Instrument]) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// verifyBatch rebuilds the detector from the chart's bars in one Init and
// reports how many terms differ from the incremental detector.
func verifyBatch(c *chart.Chart) int {
	inc := c.Detector()
	batch := extremum.New()
	batch.Init(c.Bars())

	bad := 0
	for _, t := range extremum.Terms {
		if !slices.Equal(inc.AllExtrema(t), batch.AllExtrema(t)) {
			log.Printf("[backtest] %s %s: extrema differ (incremental=%d batch=%d)",
				c.Series(), t, len(inc.AllExtrema(t)), len(batch.AllExtrema(t)))
			bad++
			continue
		}
		if !slices.Equal(inc.AllTrends(t), batch.AllTrends(t)) {
			log.Printf("[backtest] %s %s: trends differ (incremental=%d batch=%d)",
				c.Series(), t, len(inc.AllTrends(t)), len(batch.AllTrends(t)))
			bad++
			continue
		}
		ie, iok := inc.Extremum(t, 0)
		be, bok := batch.Extremum(t, 0)
		if iok != bok || ie != be {
			log.Printf("[backtest] %s %s: pending extremum differs: %v vs %v", c.Series(), t, ie, be)
			bad++
		}
	}
	return bad
}

func printChart(c *chart.Chart, last int) {
	d := c.Detector()
	fmt.Printf("\n── %s (%d bars) ──\n", c.Series(), c.Len())
	for _, t := range extremum.Terms {
		all := d.AllExtrema(t)
		trends := d.AllTrends(t)
		fmt.Printf("  %s: %d extrema, %d trends\n", t, len(all), len(trends))
		for _, e := range all[max(0, len(all)-last):] {
			fmt.Printf("    %s %-3s %12.4f\n", e.Time().Format("2006-01-02 15:04"), e.Kind, e.Price)
		}
		for _, tr := range trends[max(0, len(trends)-last):] {
			fmt.Printf("    %s → %s %-4s abs=%6.2f%% speed=%6.2f%% len=%d\n",
				tr.Begin.Time().Format("2006-01-02"), tr.End.Time().Format("2006-01-02"),
				tr.Kind, tr.AbsP(), tr.SpeedP(), tr.Len)
		}
		if e, ok := d.Extremum(t, 0); ok {
			fmt.Printf("    pending %-3s %12.4f at %s\n", e.Kind, e.Price, e.Time().Format("2006-01-02 15:04"))
		}
	}
}

func saveChart(ctx context.Context, store *sqlstore.Store, c *chart.Chart) {
	d := c.Detector()
	if err := store.SaveArtifacts(ctx, c.Series(), d); err != nil {
		log.Printf("[backtest] %s: save artifacts: %v", c.Series(), err)
		return
	}
	for _, t := range extremum.Terms {
		ext, err1 := store.ReadExtrema(ctx, c.Series(), t)
		trends, err2 := store.ReadTrends(ctx, c.Series(), t)
		if err := errors.Join(err1, err2); err != nil {
			log.Printf("[backtest] %s %s: read back: %v", c.Series(), t, err)
			continue
		}
		if len(ext) != len(d.AllExtrema(t)) || len(trends) != len(d.AllTrends(t)) {
			log.Printf("[backtest] %s %s: stored %d extrema / %d trends, detector has %d / %d",
				c.Series(), t, len(ext), len(trends), len(d.AllExtrema(t)), len(d.AllTrends(t)))
		}
	}
	data, err := d.Snapshot().JSON()
	if err != nil {
		log.Printf("[backtest] %s: encode snapshot: %v", c.Series(), err)
		return
	}
	if err := store.SaveSnapshotJSON(ctx, c.Series(), data); err != nil {
		log.Printf("[backtest] %s: save snapshot: %v", c.Series(), err)
	}
}

// importCSV loads bars from path into the store under every given
// instrument and timeframe pair. Rows are ts,open,high,low,close,volume
// with an optional header row.
func importCSV(ctx context.Context, store *sqlstore.Store, path string, instruments []string, tfs []model.TimeFrame) error {
	if len(instruments) == 0 {
		return errors.New("--import needs --instruments")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bars, err := readCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, inst := range instruments {
		for _, tf := range tfs {
			s := model.Series{Instrument: inst, TF: tf}
			if err := store.WriteBars(ctx, s, bars); err != nil {
				return fmt.Errorf("%s: %w", s, err)
			}
			last, err := store.LastTimestamp(ctx, s)
			if err != nil {
				return fmt.Errorf("%s: %w", s, err)
			}
			log.Printf("[backtest] imported %d bars into %s, last bar %s",
				len(bars), s, time.Unix(0, last).UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func readCSV(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []model.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 fields, got %d", line, len(rec))
		}
		b, err := parseRow(rec)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(bars); n > 0 && b.TS <= bars[n-1].TS {
			return nil, fmt.Errorf("line %d: timestamps must increase", line)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseRow(rec []string) (model.Bar, error) {
	var b model.Bar
	ts, err := parseTime(rec[0], 0)
	if err != nil {
		return b, err
	}
	b.TS = ts
	prices := []*float64{&b.Open, &b.High, &b.Low, &b.Close}
	for i, p := range prices {
		if *p, err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64); err != nil {
			return b, err
		}
	}
	if len(rec) > 5 && strings.TrimSpace(rec[5]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
		if err != nil || v < 0 {
			return b, fmt.Errorf("bad volume %q", rec[5])
		}
		b.Volume = uint64(v)
	}
	return b, nil
}

// parseTime accepts YYYY-MM-DD, RFC3339 or Unix seconds and returns
// nanoseconds. An empty string yields fallback.
func parseTime(s string, fallback int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UnixNano(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixNano(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised time %q", s)
}

func parseTFs(s string) ([]model.TimeFrame, error) {
	var tfs []model.TimeFrame
	for _, p := range splitList(s) {
		tf, err := model.ParseTimeFrame(p)
		if err != nil {
			return nil, err
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
